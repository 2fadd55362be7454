package shaders

import (
	_ "embed"
)

//go:embed cloth_forces.wgsl
var ClothForcesWGSL string

//go:embed cloth_integrate.wgsl
var ClothIntegrateWGSL string
