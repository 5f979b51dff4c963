package stage

// TypeNamePhysicsScene is the prim type holding simulation parameters.
// Gravity defaults are derived by consumers from the stage up axis and
// meters-per-unit, so the samples author no explicit gravity.
const TypeNamePhysicsScene = "PhysicsScene"

// Applied physics API schema names.
const (
	APIRigidBody     = "PhysicsRigidBodyAPI"
	APICollision     = "PhysicsCollisionAPI"
	APIMeshCollision = "PhysicsMeshCollisionAPI"
)

// AttrPhysicsApproximation selects the collision approximation for a mesh.
const AttrPhysicsApproximation = "physics:approximation"

// Collision approximation tokens.
const (
	ApproximationConvexHull Token = "convexHull"
	ApproximationNone       Token = "none"
)

// PhysicsScene is the simulation parameter prim.
type PhysicsScene struct {
	Prim
}

// DefinePhysicsScene authors a PhysicsScene prim at path.
func DefinePhysicsScene(s *Stage, path Path) (PhysicsScene, error) {
	p, err := s.DefinePrim(path, TypeNamePhysicsScene)
	if err != nil {
		return PhysicsScene{}, err
	}

	return PhysicsScene{Prim: p}, nil
}

// EnablePhysics makes the prim participate in simulation: a collider
// always, and a dynamic rigid body when dynamic is true. Meshes
// additionally get a collision approximation, convex hull for dynamic
// bodies and the exact triangle mesh otherwise.
func EnablePhysics(p Prim, dynamic bool) error {
	if dynamic {
		if err := p.ApplyAPI(APIRigidBody); err != nil {
			return err
		}
	}
	if err := p.ApplyAPI(APICollision); err != nil {
		return err
	}

	if p.IsA(TypeNameMesh) {
		if err := p.ApplyAPI(APIMeshCollision); err != nil {
			return err
		}
		approximation := ApproximationNone
		if dynamic {
			approximation = ApproximationConvexHull
		}

		return p.SetAttr(AttrPhysicsApproximation, approximation)
	}

	return nil
}
