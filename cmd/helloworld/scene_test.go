package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
	"github.com/stagelink/connect/stage"
)

func TestBuildScene(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lggr := logger.Test(t)
	conn := client.Connect(lggr)
	t.Cleanup(func() { _ = conn.Close() })

	folder := t.TempDir()
	stg, err := stage.CreateNew(ctx, conn, filepath.Join(folder, "helloworld.stage"))
	require.NoError(t, err)

	require.NoError(t, buildScene(ctx, lggr, conn, stg, folder))

	// Looks groups the materials and must not be transformable.
	looks := stg.GetPrimAtPath(looksPath)
	require.True(t, looks.IsValid())
	assert.Equal(t, stage.TypeNameScope, looks.TypeName())

	dome := stg.GetPrimAtPath(domePath)
	require.True(t, dome.IsValid())
	file, ok := dome.GetAttr(stage.AttrLightTextureFile)
	require.True(t, ok)
	assert.Equal(t, stage.AssetPath("./Materials/kloofendal_48d_partly_cloudy.hdr"), file)
	format, ok := dome.GetAttr(stage.AttrLightTextureFormat)
	require.True(t, ok)
	assert.Equal(t, stage.TextureFormatLatLong, format)

	box := stg.GetPrimAtPath(boxPath)
	require.True(t, box.IsValid())
	assert.True(t, box.IsA(stage.TypeNameMesh))
	boxSpec := stg.RootLayer().GetPrimAtPath(boxPath)
	require.NotNil(t, boxSpec)
	rel := boxSpec.Rel(stage.RelMaterialBinding)
	require.NotNil(t, rel)
	assert.Equal(t, "/Root/Looks/Fieldstone", rel.Targets[0].String())
}
