package recipe

import (
	"path/filepath"

	"github.com/openfroyo/pclforge/pkg/engine"
)

const (
	// Name is the recipe name.
	Name = "pcl"

	// StableVersion is the released version the stable source builds.
	StableVersion = "1.8.0"

	// StableURL and StableSHA256 identify the stable source archive.
	StableURL    = "https://github.com/PointCloudLibrary/pcl/archive/pcl-1.8.0.tar.gz"
	StableSHA256 = "9e54b0c1b59a67a386b9b0f4acb2d764272ff9a0377b825c4ed5eedf46ebfcf4"

	// HeadURL is the development repository.
	HeadURL = "https://github.com/PointCloudLibrary/pcl.git"

	// ToolkitGroup is the exclusive group of Qt toolkit variants.
	ToolkitGroup = "qt-toolkit"

	// BuildDir is the out-of-source build directory, relative to the source.
	BuildDir = "macbuild"
)

// Requirement names.
const (
	ReqCUDA          = "cuda"
	ReqOpenNI2Redist = "openni2-redist"
	ReqVTKAvailable  = "vtk-available"
)

// DefaultLayout returns the layout of a default Homebrew prefix.
func DefaultLayout() engine.Layout {
	return LayoutFor("/usr/local")
}

// LayoutFor returns the layout rooted at a Homebrew-style prefix.
func LayoutFor(root string) engine.Layout {
	return engine.Layout{
		Prefix:    filepath.Join(root, "Cellar", Name, StableVersion),
		OptRoot:   filepath.Join(root, "opt"),
		BuildType: "Release",
	}
}

// StdArgs returns the standard CMake arguments for a layout.
func StdArgs(layout engine.Layout) []engine.Define {
	return []engine.Define{
		engine.D("CMAKE_C_FLAGS_RELEASE", "-DNDEBUG"),
		engine.D("CMAKE_CXX_FLAGS_RELEASE", "-DNDEBUG"),
		engine.D("CMAKE_INSTALL_PREFIX", layout.Prefix),
		engine.D("CMAKE_BUILD_TYPE", layout.BuildType),
		engine.D("CMAKE_FIND_FRAMEWORK", "LAST"),
		engine.D("CMAKE_VERBOSE_MAKEFILE", "ON"),
		engine.Arg("-Wno-dev"),
	}
}

// PCL returns the Point Cloud Library recipe compiled against layout.
func PCL(layout engine.Layout) *engine.Recipe {
	return &engine.Recipe{
		Name:         Name,
		Version:      StableVersion,
		Layout:       layout,
		Options:      options(),
		Groups:       []engine.ExclusiveGroup{{Name: ToolkitGroup, Members: []string{"qt", "qt5"}}},
		Ignorable:    []string{"build-bottle", "verbose", "debug", "keep-tmp"},
		Base:         baseDependencies(),
		Rules:        rules(),
		Requirements: requirements(layout),
		Flags:        flags(layout),
		Env: []engine.EnvEffect{
			{
				When:     engine.Enabled("openni2"),
				Variable: "OPENNI2_INCLUDE",
				Op:       engine.EnvAppend,
				Value:    engine.DepPath("openni2-prefix", "openni2", "include/ni2"),
			},
			{
				When:     engine.Enabled("openni2"),
				Variable: "OPENNI2_LIB",
				Op:       engine.EnvAppend,
				Value:    engine.DepPath("openni2-prefix", "openni2", "lib/ni2"),
			},
		},
	}
}

func options() []engine.OptionSpec {
	b := func(name, def, desc string) engine.OptionSpec {
		return engine.OptionSpec{Name: name, Kind: engine.OptionBool, Default: def, Description: desc}
	}
	tri := func(name, def, desc string) engine.OptionSpec {
		return engine.OptionSpec{Name: name, Kind: engine.OptionTriState, Default: def, Description: desc}
	}
	path := func(name, desc string) engine.OptionSpec {
		return engine.OptionSpec{Name: name, Kind: engine.OptionPath, Description: desc}
	}

	return []engine.OptionSpec{
		b("examples", "false", "Build pcl examples"),
		b("tools", "true", "Build pcl tools"),
		b("apps", "true", "Build pcl apps"),
		b("cuda", "false", "Build GPU modules with NVIDIA CUDA"),
		b("qt", "false", "Use Qt 4 for the visualization toolkit"),
		b("qt5", "false", "Use Qt 5 for the visualization toolkit"),
		tri("vtk", engine.TriAuto, "VTK visualization: on requires it, auto uses it when available"),
		b("openni", "false", "Support OpenNI sensors"),
		b("openni2", "false", "Support OpenNI2 sensors"),
		path("openni-prefix", "Override the OpenNI install prefix"),
		path("openni2-prefix", "Override the OpenNI2 install prefix"),
		{
			Name:        "source",
			Kind:        engine.OptionEnum,
			Default:     "stable",
			Members:     []string{"stable", "head"},
			Description: "Build the stable release or the development head",
		},
		tri("simulation", engine.TriAuto, "Simulation module"),
		tri("outofcore", engine.TriAuto, "Out-of-core octree module"),
		tri("people", engine.TriAuto, "People detection module"),
		tri("apps-3d-rec-framework", engine.TriAuto, "3D recognition framework app"),
		tri("apps-cloud-composer", engine.TriAuto, "Cloud composer app"),
		tri("apps-in-hand-scanner", engine.TriAuto, "In-hand scanner app"),
		tri("apps-optronic-viewer", engine.TriAuto, "Optronic viewer app"),
		tri("apps-point-cloud-editor", engine.TriAuto, "Point cloud editor app"),
		tri("apps-modeler", engine.TriAuto, "Modeler app; auto is off on stable without Qt"),
		tri("gpu-people", engine.TriOn, "GPU people detection"),
		tri("gpu-surface", engine.TriOn, "GPU surface reconstruction"),
		tri("gpu-tracking", engine.TriOn, "GPU tracking"),
	}
}

func baseDependencies() []engine.Dependency {
	build := func(name string) engine.Dependency {
		return engine.Dependency{Name: name, Phase: engine.PhaseBuild}
	}
	run := func(name string, after ...string) engine.Dependency {
		return engine.Dependency{Name: name, Phase: engine.PhaseRuntime, After: after}
	}
	return []engine.Dependency{
		build("cmake"),
		build("pkg-config"),
		run("boost"),
		run("eigen"),
		run("flann"),
		run("cminpack"),
		run("qhull"),
		run("libusb"),
		run("glew"),
	}
}

func rules() []engine.DependencyRule {
	qt := engine.VariantSelected(ToolkitGroup, "qt")
	qt5 := engine.VariantSelected(ToolkitGroup, "qt5")
	noToolkit := engine.NoVariant(ToolkitGroup)
	vtkWanted := engine.Not(engine.Equals("vtk", engine.TriOff))

	return []engine.DependencyRule{
		{
			Name:     "cuda",
			When:     engine.Enabled("cuda"),
			Requires: []string{ReqCUDA},
		},
		{
			Name: "qt",
			When: qt,
			Dependencies: []engine.Dependency{
				{Name: "qt", Phase: engine.PhaseRuntime},
				{Name: "sip", Phase: engine.PhaseRuntime, After: []string{"qt"}},
				{Name: "pyqt", Phase: engine.PhaseRuntime, After: []string{"qt", "sip"}},
			},
		},
		{
			Name: "qt5",
			When: qt5,
			Dependencies: []engine.Dependency{
				{Name: "qt5", Phase: engine.PhaseRuntime},
				{Name: "sip", Phase: engine.PhaseRuntime, After: []string{"qt5"}},
				{
					Name:  "pyqt5",
					Phase: engine.PhaseRuntime,
					Args:  []string{"with-python", "without-python3"},
					After: []string{"qt5", "sip"},
				},
			},
		},
		{
			Name: "vtk-qt",
			When: engine.And(qt, vtkWanted),
			Dependencies: []engine.Dependency{{
				Name: "vtk", Phase: engine.PhaseRuntime, Args: []string{"with-qt"},
				Recommended: true, After: []string{"qt", "pyqt"},
			}},
		},
		{
			Name: "vtk-qt5",
			When: engine.And(qt5, vtkWanted),
			Dependencies: []engine.Dependency{{
				Name: "vtk", Phase: engine.PhaseRuntime, Args: []string{"with-qt5"},
				Recommended: true, After: []string{"qt5", "pyqt5"},
			}},
		},
		{
			Name:         "vtk",
			When:         engine.And(noToolkit, engine.Enabled("vtk")),
			Dependencies: []engine.Dependency{{Name: "vtk", Phase: engine.PhaseRuntime}},
		},
		{
			// Neither toolkit: vtk stays recommended and is only used when
			// the host already has it.
			Name:         "vtk-recommended",
			When:         engine.And(noToolkit, engine.Equals("vtk", engine.TriAuto)),
			IfAvailable:  ReqVTKAvailable,
			Dependencies: []engine.Dependency{{Name: "vtk", Phase: engine.PhaseRuntime, Recommended: true}},
		},
		{
			Name:         "openni",
			When:         engine.Enabled("openni"),
			Dependencies: []engine.Dependency{{Name: "openni", Phase: engine.PhaseRuntime, After: []string{"libusb"}}},
		},
		{
			Name:         "openni2",
			When:         engine.Enabled("openni2"),
			Requires:     []string{ReqOpenNI2Redist},
			Dependencies: []engine.Dependency{{Name: "openni2", Phase: engine.PhaseRuntime, After: []string{"libusb"}}},
		},
	}
}

func flags(layout engine.Layout) []engine.FlagEffect {
	apps := func(option, name string) engine.FlagEffect {
		return engine.TriState{Option: option, Name: name}
	}

	return []engine.FlagEffect{
		engine.Fixed{Defines: StdArgs(layout)},
		engine.Fixed{Defines: []engine.Define{engine.Bool("BUILD_SHARED_LIBS", "ON")}},
		engine.TriState{Option: "simulation", Name: "BUILD_simulation", Typed: true},
		engine.TriState{Option: "outofcore", Name: "BUILD_outofcore", Typed: true},
		engine.TriState{Option: "people", Name: "BUILD_people", Typed: true},
		engine.Fixed{Defines: []engine.Define{
			engine.Bool("BUILD_global_tests", "OFF"),
			engine.Bool("WITH_TUTORIALS", "OFF"),
			engine.Bool("WITH_DOCS", "OFF"),
		}},
		engine.Variant{
			Group: ToolkitGroup,
			Members: map[string][]engine.Define{
				"qt":  {engine.D("PCL_QT_VERSION", "4")},
				"qt5": {engine.D("PCL_QT_VERSION", "5")},
			},
			None: []engine.Define{engine.Bool("WITH_QT", "FALSE")},
		},
		engine.Toggle{
			Option: "cuda",
			On:     []engine.Define{engine.Bool("WITH_CUDA", engine.AutoValue), engine.Bool("BUILD_GPU", "ON")},
			Off:    []engine.Define{engine.Bool("WITH_CUDA", "OFF")},
		},
		engine.Gate{
			When: engine.Enabled("cuda"),
			Then: []engine.FlagEffect{
				engine.TriState{Option: "gpu-people", Name: "BUILD_gpu_people", Typed: true},
				engine.TriState{Option: "gpu-surface", Name: "BUILD_gpu_surface", Typed: true},
				engine.TriState{Option: "gpu-tracking", Name: "BUILD_gpu_tracking", Typed: true},
			},
		},
		engine.Toggle{
			Option: "openni2",
			On:     []engine.Define{engine.Bool("BUILD_OPENNI2", "ON")},
			Off:    []engine.Define{},
		},
		engine.Toggle{
			Option: "apps",
			On:     []engine.Define{engine.D("BUILD_apps", engine.AutoValue)},
			Off:    []engine.Define{engine.Bool("BUILD_apps", "OFF")},
		},
		engine.Gate{
			When: engine.Enabled("apps"),
			Then: []engine.FlagEffect{
				apps("apps-3d-rec-framework", "BUILD_apps_3d_rec_framework"),
				apps("apps-cloud-composer", "BUILD_apps_cloud_composer"),
				apps("apps-in-hand-scanner", "BUILD_apps_in_hand_scanner"),
				apps("apps-optronic-viewer", "BUILD_apps_optronic_viewer"),
				apps("apps-point-cloud-editor", "BUILD_apps_point_cloud_editor"),
				engine.TriState{
					Option:  "apps-modeler",
					Name:    "BUILD_apps_modeler",
					AutoOff: engine.And(engine.Equals("source", "stable"), engine.NoVariant(ToolkitGroup)),
				},
			},
		},
		engine.Toggle{
			Option: "tools",
			On:     []engine.Define{},
			Off:    []engine.Define{engine.Bool("BUILD_tools", "OFF")},
		},
		engine.Toggle{
			Option: "examples",
			On:     []engine.Define{engine.Bool("BUILD_examples", "ON")},
			Off:    []engine.Define{engine.Bool("BUILD_examples", "OFF")},
		},
		engine.Toggle{
			Option: "openni",
			On: []engine.Define{{
				Name:  "OPENNI_INCLUDE_DIR",
				Value: engine.DepPath("openni-prefix", "openni", "include/ni"),
			}},
			Off: []engine.Define{engine.Bool("CMAKE_DISABLE_FIND_PACKAGE_OpenNI", "TRUE")},
		},
		engine.Gate{
			When: engine.Equals("vtk", engine.TriOff),
			Then: []engine.FlagEffect{
				engine.Fixed{Defines: []engine.Define{engine.Bool("CMAKE_DISABLE_FIND_PACKAGE_VTK", "TRUE")}},
			},
		},
	}
}
