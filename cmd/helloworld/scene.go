package main

import (
	"context"
	"fmt"
	"os"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
	"github.com/stagelink/connect/stage"
)

// Prim paths of the demo scene.
var (
	rootPath    = stage.MustParsePath("/Root")
	physicsPath = stage.MustParsePath("/Root/PhysicsScene")
	boxPath     = stage.MustParsePath("/Root/box")
	cubePath    = stage.MustParsePath("/Root/cube")
	groundPath  = stage.MustParsePath("/Root/groundPlane")
	distantPath = stage.MustParsePath("/Root/DistantLight")
	domePath    = stage.MustParsePath("/Root/DomeLight")
	looksPath   = stage.MustParsePath("/Root/Looks")
)

// materialsFolderName is the folder the material sources are uploaded to,
// next to the stage.
const materialsFolderName = "Materials"

// fallbackMDL is written when no local resources/Materials folder exists,
// so the shading network always has an asset to reference.
const fallbackMDL = `mdl 1.6;
import ::OmniPBR::OmniPBR;
export material Fieldstone(*) = ::OmniPBR::OmniPBR();
`

// buildScene authors the demo content: geometry with physics, lights, an
// uploaded and bound material, and a spare empty folder, checkpointing the
// stage after each step.
func buildScene(ctx context.Context, lggr logger.Logger, conn *client.Connection, stg *stage.Stage, folderURL string) error {
	stageURL := stg.RootLayer().Identifier()

	stg.SetUpAxis("Y")
	stg.SetMetersPerUnit(0.01)

	root, err := stage.DefineXform(stg, rootPath)
	if err != nil {
		return err
	}
	stg.SetDefaultPrim(root.Prim)

	if _, err := stage.DefinePhysicsScene(stg, physicsPath); err != nil {
		return err
	}

	box, err := createBox(stg)
	if err != nil {
		return err
	}
	if err := createCube(stg); err != nil {
		return err
	}
	if err := createGround(stg); err != nil {
		return err
	}
	if err := checkpoint(ctx, lggr, conn, stg, stageURL, "Add geometry"); err != nil {
		return err
	}

	if err := createLights(stg); err != nil {
		return err
	}
	if err := checkpoint(ctx, lggr, conn, stg, stageURL, "Add lights"); err != nil {
		return err
	}

	materialsURL := client.Join(folderURL, materialsFolderName)
	if err := uploadMaterials(ctx, lggr, conn, materialsURL); err != nil {
		return err
	}
	if err := createMaterial(stg, box.Prim); err != nil {
		return err
	}
	if err := checkpoint(ctx, lggr, conn, stg, stageURL, "Add material"); err != nil {
		return err
	}

	emptyURL := client.Join(folderURL, "EmptyFolder")
	if err := conn.CreateFolder(ctx, emptyURL); err != nil {
		return err
	}
	lggr.Infow("Created folder", "url", emptyURL)

	return describeDestination(ctx, lggr, conn, folderURL)
}

// createBox authors a textured, physics-enabled box mesh.
func createBox(stg *stage.Stage) (stage.Mesh, error) {
	const h = 50.0

	box, err := stage.DefineMesh(stg, boxPath)
	if err != nil {
		return stage.Mesh{}, err
	}

	points := []stage.Vec3f{
		{-h, -h, -h}, {h, -h, -h}, {h, -h, h}, {-h, -h, h},
		{-h, h, -h}, {h, h, -h}, {h, h, h}, {-h, h, h},
	}
	const n = 0.5774 // 1/sqrt(3), corner normals
	normals := []stage.Vec3f{
		{-n, -n, -n}, {n, -n, -n}, {n, -n, n}, {-n, -n, n},
		{-n, n, -n}, {n, n, -n}, {n, n, n}, {-n, n, n},
	}
	uv := []stage.Vec2f{
		{0, 0}, {1, 0}, {1, 1}, {0, 1},
		{0, 1}, {1, 1}, {1, 0}, {0, 0},
	}

	steps := []error{
		box.SetPoints(points),
		box.SetNormals(normals),
		box.SetFaceVertexCounts([]int{4, 4, 4, 4, 4, 4}),
		box.SetFaceVertexIndices([]int{
			0, 1, 2, 3, // bottom
			4, 7, 6, 5, // top
			3, 2, 6, 7, // front
			0, 4, 5, 1, // back
			1, 5, 6, 2, // right
			0, 3, 7, 4, // left
		}),
		box.SetUV(uv),
		box.SetDisplayColor(stage.Vec3f{0.463, 0.725, 0}),
		box.SetOrientation(stage.OrientationRightHanded),
		box.SetExtent(stage.ComputeExtent(points)),
		stage.SetLocalSRT(box.Prim,
			stage.Vec3d{0, h, 0}, stage.Vec3d{}, stage.Vec3d{1, 1, 1}),
		stage.EnablePhysics(box.Prim, true),
	}
	for _, err := range steps {
		if err != nil {
			return stage.Mesh{}, fmt.Errorf("author box: %w", err)
		}
	}

	return box, nil
}

// createCube authors a dynamic cube resting above the box.
func createCube(stg *stage.Stage) error {
	cube, err := stage.DefineCube(stg, cubePath)
	if err != nil {
		return err
	}

	const size = 50.0
	steps := []error{
		cube.SetSize(size),
		cube.SetExtent(stage.DefaultCubeExtent(size)),
		stage.SetLocalSRT(cube.Prim,
			stage.Vec3d{120, size / 2, 0}, stage.Vec3d{}, stage.Vec3d{1, 1, 1}),
		stage.EnablePhysics(cube.Prim, true),
	}
	for _, err := range steps {
		if err != nil {
			return fmt.Errorf("author cube: %w", err)
		}
	}

	return nil
}

// createGround authors a static quad collider for the dynamic bodies to
// land on.
func createGround(stg *stage.Stage) error {
	ground, err := stage.DefineMesh(stg, groundPath)
	if err != nil {
		return err
	}

	const s = 500.0
	points := []stage.Vec3f{{-s, 0, -s}, {s, 0, -s}, {s, 0, s}, {-s, 0, s}}
	up := stage.Vec3f{0, 1, 0}

	steps := []error{
		ground.SetPoints(points),
		ground.SetNormals([]stage.Vec3f{up, up, up, up}),
		ground.SetFaceVertexCounts([]int{4}),
		ground.SetFaceVertexIndices([]int{0, 3, 2, 1}),
		ground.SetDisplayColor(stage.Vec3f{0.5, 0.5, 0.5}),
		ground.SetExtent(stage.ComputeExtent(points)),
		stage.EnablePhysics(ground.Prim, false),
	}
	for _, err := range steps {
		if err != nil {
			return fmt.Errorf("author ground: %w", err)
		}
	}

	return nil
}

func createLights(stg *stage.Stage) error {
	distant, err := stage.DefineDistantLight(stg, distantPath)
	if err != nil {
		return err
	}
	if err := distant.SetAngle(0.53); err != nil {
		return err
	}
	if err := distant.SetColor(stage.Vec3f{0.9, 0.9, 0.9}); err != nil {
		return err
	}
	if err := distant.SetIntensity(1000); err != nil {
		return err
	}

	dome, err := stage.DefineDomeLight(stg, domePath)
	if err != nil {
		return err
	}
	if err := dome.SetIntensity(900); err != nil {
		return err
	}
	hdr := stage.AssetPath("./" + materialsFolderName + "/kloofendal_48d_partly_cloudy.hdr")
	if err := dome.SetTextureFile(hdr); err != nil {
		return err
	}
	if err := dome.SetTextureFormat(stage.TextureFormatLatLong); err != nil {
		return err
	}

	return nil
}

// uploadMaterials copies the local material sources next to the stage, or
// writes a minimal fallback module when none are available.
func uploadMaterials(ctx context.Context, lggr logger.Logger, conn *client.Connection, materialsURL string) error {
	const localMaterials = "resources/Materials"

	if _, err := os.Stat(localMaterials); err == nil {
		lggr.Infow("Uploading materials", "from", localMaterials, "to", materialsURL)
		return conn.Copy(ctx, localMaterials, materialsURL)
	}

	lggr.Infow("No local materials found, writing fallback", "to", materialsURL)
	mdlURL := client.Join(materialsURL, "Fieldstone.mdl")

	return conn.WriteFile(ctx, mdlURL, []byte(fallbackMDL))
}

// createMaterial authors the Fieldstone shading network and binds it to
// the target prim: an MDL surface for the MDL render context, and a
// preview surface fed by a primvar reader and a texture for everything
// else.
func createMaterial(stg *stage.Stage, target stage.Prim) error {
	// Looks is a grouping Scope, not a transformable Xform.
	if _, err := stage.DefineScope(stg, looksPath); err != nil {
		return err
	}

	matPath := looksPath.AppendChild("Fieldstone")
	mat, err := stage.DefineMaterial(stg, matPath)
	if err != nil {
		return err
	}

	mdl, err := stage.DefineShader(stg, matPath.AppendChild("Fieldstone"))
	if err != nil {
		return err
	}
	mdlAsset := stage.AssetPath("./" + materialsFolderName + "/Fieldstone.mdl")
	steps := []error{
		mdl.SetID(stage.ShaderIDMDLMaterial),
		mdl.SetSourceAsset("mdl", mdlAsset, "Fieldstone"),
		mdl.CreateOutput("out"),
		mat.ConnectSurfaceOutput("mdl", mdl, "out"),
	}
	for _, err := range steps {
		if err != nil {
			return fmt.Errorf("author mdl shader: %w", err)
		}
	}

	surface, err := stage.DefineShader(stg, matPath.AppendChild("PreviewSurface"))
	if err != nil {
		return err
	}
	reader, err := stage.DefineShader(stg, matPath.AppendChild("PrimvarReader"))
	if err != nil {
		return err
	}
	texture, err := stage.DefineShader(stg, matPath.AppendChild("DiffuseTexture"))
	if err != nil {
		return err
	}

	texAsset := stage.AssetPath("./" + materialsFolderName + "/Fieldstone/Fieldstone_BaseColor.png")
	steps = []error{
		surface.SetID(stage.ShaderIDPreviewSurface),
		surface.SetInput("roughness", float64(0.8)),
		surface.CreateOutput("surface"),

		reader.SetID(stage.ShaderIDPrimvarReader2),
		reader.SetInput("varname", stage.Token("st")),
		reader.CreateOutput("result"),

		texture.SetID(stage.ShaderIDUVTexture),
		texture.SetInput("file", texAsset),
		texture.SetInputColorSpace("file", stage.ColorSpaceSRGB),
		texture.ConnectInput("st", reader, "result"),
		texture.CreateOutput("rgb"),

		surface.ConnectInput("diffuseColor", texture, "rgb"),
		mat.ConnectSurfaceOutput("", surface, "surface"),
		mat.Bind(target),
	}
	for _, err := range steps {
		if err != nil {
			return fmt.Errorf("author preview surface: %w", err)
		}
	}

	return nil
}

// checkpoint saves the stage and records a named checkpoint when the
// server supports them.
func checkpoint(ctx context.Context, lggr logger.Logger, conn *client.Connection, stg *stage.Stage, stageURL, comment string) error {
	if err := stg.Save(ctx); err != nil {
		return err
	}

	info, err := conn.ServerInfo(ctx, stageURL)
	if err != nil {
		return err
	}
	if !info.CheckpointsEnabled {
		return nil
	}

	cp, err := conn.CreateCheckpoint(ctx, stageURL, comment, false)
	if err != nil {
		return err
	}
	lggr.Infow("Created checkpoint", "comment", comment, "id", cp.ID)

	return nil
}

// describeDestination logs the server identity and the produced folder
// contents.
func describeDestination(ctx context.Context, lggr logger.Logger, conn *client.Connection, folderURL string) error {
	info, err := conn.ServerInfo(ctx, folderURL)
	if err != nil {
		return err
	}
	lggr.Infow("Connected as", "user", info.Username, "version", info.Version)

	entries, err := conn.List(ctx, folderURL)
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "file"
		if e.IsFolder {
			kind = "folder"
		}
		lggr.Infow("Destination entry", "url", e.URL, "kind", kind, "size", e.Size)
	}

	return nil
}
