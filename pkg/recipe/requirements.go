package recipe

import (
	"path/filepath"

	"github.com/openfroyo/pclforge/pkg/engine"
)

const cudaRemediation = `To use this formula with NVIDIA graphics cards you will need to
download and install the CUDA drivers and tools from nvidia.com.

    https://developer.nvidia.com/cuda-downloads

Select "Mac OS" as the Operating System and then select the
'Developer Drivers for MacOS' package.
You will also need to download and install the 'CUDA Toolkit' package.

The ` + "`nvcc`" + ` has to be in your PATH then (which is normally the case).
`

const openni2RedistRemediation = `OpenNI2 loads its device drivers from $OPENNI2_REDIST at runtime.

    https://structure.io/openni

Set OPENNI2_REDIST to the Redist directory of your OpenNI2 installation,
otherwise connected sensors will not be detected by the built tools.
`

func requirements(layout engine.Layout) []engine.Requirement {
	return []engine.Requirement{
		{
			Name:        ReqCUDA,
			Severity:    engine.SeverityFatal,
			Phase:       engine.PhaseBuild,
			Check:       engine.Check{Kind: engine.CheckExecutable, Target: "nvcc"},
			Remediation: cudaRemediation,
			Env:         cudaEnv,
		},
		{
			Name:        ReqOpenNI2Redist,
			Severity:    engine.SeverityAdvisory,
			Phase:       engine.PhaseRuntime,
			Check:       engine.Check{Kind: engine.CheckEnv, Target: "OPENNI2_REDIST"},
			Remediation: openni2RedistRemediation,
		},
		{
			Name:     ReqVTKAvailable,
			Severity: engine.SeverityAdvisory,
			Phase:    engine.PhaseBuild,
			Check:    engine.Check{Kind: engine.CheckPath, Target: filepath.Join(layout.OptRoot, "vtk")},
			Remediation: "VTK is not installed; visualization modules will be skipped.\n" +
				"Install vtk first or set vtk=on to require it.\n",
		},
	}
}

// cudaEnv exposes the framework search path and the directory holding nvcc.
func cudaEnv(res engine.ProbeResult) []engine.EnvMutation {
	out := []engine.EnvMutation{engine.Append("CFLAGS", "-F/Library/Frameworks", " ")}
	if res.Location != "" {
		out = append(out, engine.Append("PATH", filepath.Dir(res.Location), ":"))
	}
	return out
}
