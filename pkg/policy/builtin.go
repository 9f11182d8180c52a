package policy

// GetBuiltinPolicies returns all built-in policies. They only warn.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		appsVisualizationPolicy(),
		modelerToolkitPolicy(),
		gpuModulesPolicy(),
	}
}

// appsVisualizationPolicy warns when apps are requested with VTK disabled.
func appsVisualizationPolicy() Policy {
	return Policy{
		Name:        "apps-visualization",
		Description: "Apps are built against VTK; with vtk=off CMake silently drops most of them",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"apps", "vtk"},
		Rego: `package pclforge.builtin.apps_visualization

import rego.v1

warn contains finding if {
	input.options.apps == "true"
	input.options.vtk == "off"
	finding := {
		"message": "apps are enabled but vtk=off; apps that need visualization will not be built",
		"severity": "warning",
	}
}
`,
	}
}

// modelerToolkitPolicy warns when the modeler is forced on without Qt.
func modelerToolkitPolicy() Policy {
	return Policy{
		Name:        "modeler-toolkit",
		Description: "The modeler app needs a Qt toolkit",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"apps", "qt"},
		Rego: `package pclforge.builtin.modeler_toolkit

import rego.v1

no_toolkit if {
	input.options.qt != "true"
	input.options.qt5 != "true"
}

warn contains finding if {
	"apps-modeler" in input.explicit
	input.options["apps-modeler"] == "on"
	no_toolkit
	finding := {
		"message": "apps-modeler=on without qt or qt5; the modeler will fail to configure",
		"severity": "warning",
	}
}
`,
	}
}

// gpuModulesPolicy notes GPU modules requested without CUDA.
func gpuModulesPolicy() Policy {
	return Policy{
		Name:        "gpu-modules",
		Description: "GPU sub-modules only build with cuda enabled",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"gpu", "cuda"},
		Rego: `package pclforge.builtin.gpu_modules

import rego.v1

warn contains finding if {
	input.options.cuda != "true"
	some name in input.explicit
	startswith(name, "gpu-")
	input.options[name] == "on"
	finding := {
		"message": sprintf("%s=on has no effect without cuda", [name]),
		"severity": "info",
	}
}
`,
	}
}
