package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/avoura/bifurc/internal/analysis"
	"github.com/avoura/bifurc/internal/codim2"
	"github.com/avoura/bifurc/internal/config"
	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/equil"
	"github.com/avoura/bifurc/internal/export"
	"github.com/avoura/bifurc/internal/homoclinic"
	"github.com/avoura/bifurc/internal/integrators"
	"github.com/avoura/bifurc/internal/manifold"
	"github.com/avoura/bifurc/internal/orchestrator"
	"github.com/avoura/bifurc/internal/tui"
)

var (
	dbPath     string
	configFile string
	branchName string
	outPath    string
	plotPath   string
	batch      int
	watch      bool
	backward   bool

	fromSource string
	curveKind  string
	param2     string
	occurrence int
	ntst       int
	ncol       int
	amplitude  float64
	pdEps      float64

	component int
	level     float64
	axisSpecs []string

	xAxis int
	yAxis int
	ascii bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bifurc",
		Short: "numerical bifurcation analysis of flows and maps",
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".bifurc/branches.db", "branch database path")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().IntVar(&batch, "batch", 25, "continuation steps per batch")

	eqCmd := &cobra.Command{
		Use:   "equilibrium [preset]",
		Short: "continue an equilibrium branch in one parameter",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEquilibrium,
	}
	eqCmd.Flags().StringVar(&branchName, "name", "", "branch name (default <system>_eq)")
	eqCmd.Flags().BoolVar(&watch, "watch", false, "live progress view")
	eqCmd.Flags().BoolVar(&backward, "backward", false, "continue toward decreasing parameter")

	extendCmd := &cobra.Command{
		Use:   "extend [branch] [preset]",
		Short: "continue a stored branch past its endpoint",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runExtend,
	}
	extendCmd.Flags().BoolVar(&backward, "backward", false, "extend toward decreasing parameter")

	cycleCmd := &cobra.Command{
		Use:   "cycle [branch] [preset]",
		Short: "switch to a limit cycle branch at a Hopf or period doubling",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runCycle,
	}
	cycleCmd.Flags().StringVar(&branchName, "name", "", "branch name (default <branch>_cycle)")
	cycleCmd.Flags().StringVar(&fromSource, "from", "hopf", "source bifurcation: hopf or pd")
	cycleCmd.Flags().IntVar(&occurrence, "occurrence", 0, "which bifurcation of that kind")
	cycleCmd.Flags().IntVar(&ntst, "ntst", 20, "mesh intervals")
	cycleCmd.Flags().IntVar(&ncol, "ncol", 4, "collocation points per interval")
	cycleCmd.Flags().Float64Var(&amplitude, "amplitude", 1e-2, "initial cycle amplitude (hopf)")
	cycleCmd.Flags().Float64Var(&pdEps, "eps", 1e-3, "doubled cycle perturbation (pd)")
	cycleCmd.Flags().BoolVar(&watch, "watch", false, "live progress view")

	curveCmd := &cobra.Command{
		Use:   "curve [branch] [preset]",
		Short: "continue a codimension-two curve from a detected bifurcation",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runCurve,
	}
	curveCmd.Flags().StringVar(&branchName, "name", "", "branch name (default <branch>_<kind>)")
	curveCmd.Flags().StringVar(&curveKind, "kind", "fold", "fold, hopf, lpc, pd, ns or isochrone")
	curveCmd.Flags().StringVar(&param2, "param2", "", "second free parameter (default from config)")
	curveCmd.Flags().IntVar(&occurrence, "occurrence", 0, "which bifurcation of that kind")
	curveCmd.Flags().StringVar(&outPath, "out", "", "write the two-parameter curve as JSON")
	curveCmd.Flags().BoolVar(&watch, "watch", false, "live progress view")
	curveCmd.Flags().BoolVar(&backward, "backward", false, "continue toward decreasing parameter")

	homCmd := &cobra.Command{
		Use:   "homoclinic [branch|preset] [preset]",
		Short: "continue a homoclinic connection",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runHomoclinic,
	}
	homCmd.Flags().StringVar(&branchName, "name", "", "branch name")
	homCmd.Flags().StringVar(&fromSource, "from", "cycle", "seed source: cycle or saddle")
	homCmd.Flags().StringVar(&param2, "param2", "", "second free parameter (default from config)")
	homCmd.Flags().IntVar(&ntst, "ntst", 40, "mesh intervals")
	homCmd.Flags().IntVar(&ncol, "ncol", 4, "collocation points per interval")
	homCmd.Flags().BoolVar(&watch, "watch", false, "live progress view")
	homCmd.Flags().BoolVar(&backward, "backward", false, "continue toward decreasing parameter")

	manifoldCmd := &cobra.Command{
		Use:   "manifold [preset]",
		Short: "grow a two-dimensional invariant manifold surface",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runManifold,
	}
	manifoldCmd.Flags().StringVar(&outPath, "out", "", "write the surface as JSON")
	manifoldCmd.Flags().StringVar(&plotPath, "plot", "", "write a silhouette rendering")
	manifoldCmd.Flags().IntVar(&xAxis, "x-axis", 0, "state index for the silhouette x-axis")
	manifoldCmd.Flags().IntVar(&yAxis, "y-axis", 1, "state index for the silhouette y-axis")

	lyapunovCmd := &cobra.Command{
		Use:   "lyapunov [preset]",
		Short: "compute the Lyapunov spectrum along a trajectory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLyapunov,
	}

	isoCmd := &cobra.Command{
		Use:   "isocline [preset]",
		Short: "extract a level set of one vector field component",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIsocline,
	}
	isoCmd.Flags().IntVar(&component, "component", 0, "vector field component")
	isoCmd.Flags().Float64Var(&level, "level", 0, "level value")
	isoCmd.Flags().StringArrayVar(&axisSpecs, "axis", nil, "swept axis as var:min:max:samples (1 to 3 times)")
	isoCmd.Flags().StringVar(&outPath, "out", "", "write the level set as JSON")

	branchesCmd := &cobra.Command{
		Use:   "branches",
		Short: "list stored branches",
		RunE:  listBranches,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [branch]",
		Short: "render a stored branch as a bifurcation diagram",
		Args:  cobra.ExactArgs(1),
		RunE:  plotBranch,
	}
	plotCmd.Flags().StringVar(&outPath, "out", "", "output image path (default <branch>.png)")
	plotCmd.Flags().BoolVar(&ascii, "ascii", false, "print an ascii chart instead")

	exportCmd := &cobra.Command{
		Use:   "export [branch]",
		Short: "export a stored branch as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportBranch,
	}
	exportCmd.Flags().StringVar(&outPath, "out", "", "output path (default stdout)")

	deleteCmd := &cobra.Command{
		Use:   "delete [branch]",
		Short: "delete a stored branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := orchestrator.OpenRegistry(dbPath)
			if err != nil {
				return err
			}
			defer reg.Close()
			return reg.Delete(args[0])
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in system presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.PresetNames() {
				cfg := config.Preset(name)
				fmt.Printf("%-14s %s\n", name, strings.Join(cfg.System.Equations, " ; "))
			}
			return nil
		},
	}

	rootCmd.AddCommand(eqCmd, extendCmd, cycleCmd, curveCmd, homCmd,
		manifoldCmd, lyapunovCmd, isoCmd, branchesCmd, plotCmd, exportCmd, deleteCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(args []string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	if len(args) > 0 {
		cfg := config.Preset(args[0])
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q (available: %s)",
				args[0], strings.Join(config.PresetNames(), ", "))
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func direction(cfg *config.Config) bool {
	if backward {
		return false
	}
	return cfg.Forward
}

func openOrchestrator() (*orchestrator.Orchestrator, error) {
	reg, err := orchestrator.OpenRegistry(dbPath)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(reg, nil), nil
}

// driveAndStore runs r to completion, live or headless, and stores
// the branch under name.
func driveAndStore(o *orchestrator.Orchestrator, name string, r orchestrator.Runner) (*cont.Branch, error) {
	if watch {
		br, err := tui.Watch(name, r, batch)
		if br != nil {
			if serr := o.Registry().Save(name, br); serr != nil && err == nil {
				err = serr
			}
		}
		return br, err
	}
	return o.Run(name, r, batch, func(res cont.StepResult) {
		fmt.Printf("\rstep %d/%d", res.StepsTaken, res.TotalSteps)
	})
}

func printBranch(br *cont.Branch) {
	if br == nil {
		return
	}
	fmt.Printf("\n%s: %d points, %d bifurcations\n", br.Type, len(br.Points), len(br.Bifurcations))
	for _, b := range br.Bifurcations {
		if b.PointIndex < 0 || b.PointIndex >= len(br.Points) {
			continue
		}
		pt := br.Points[b.PointIndex]
		fmt.Printf("  %-18s %s = %.8g\n", b.KindName, br.Meta.Param, pt.ParamValue)
	}
}

func runEquilibrium(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sys, kind, err := cfg.System.Build()
	if err != nil {
		return err
	}
	guess := dynamo.State(cfg.Initial)
	if len(guess) == 0 {
		guess = make(dynamo.State, sys.Dim())
	}
	eq, err := equil.Solve(sys, kind, guess, equil.DefaultNewtonSettings())
	if err != nil {
		return err
	}
	p, err := cont.NewEquilibriumProblem(sys, kind, cfg.Parameter)
	if err != nil {
		return err
	}
	pv, err := sys.Param(cfg.Parameter)
	if err != nil {
		return err
	}
	r, err := cont.NewRunner(p, p.SeedAug(eq.State, pv), cfg.Continuation, direction(cfg))
	if err != nil {
		return err
	}
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.Registry().Close()

	name := branchName
	if name == "" {
		name = cfg.System.Name + "_eq"
	}
	br, err := driveAndStore(o, name, r)
	printBranch(br)
	return err
}

func runExtend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[1:])
	if err != nil {
		return err
	}
	sys, kind, err := cfg.System.Build()
	if err != nil {
		return err
	}
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.Registry().Close()

	br, err := o.Registry().Load(args[0])
	if err != nil {
		return err
	}
	p, err := o.ProblemFor(sys, kind, br)
	if err != nil {
		return err
	}
	merged, err := o.Extend(args[0], p, cfg.Continuation, direction(cfg), batch)
	printBranch(merged)
	return err
}

func runCycle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[1:])
	if err != nil {
		return err
	}
	sys, _, err := cfg.System.Build()
	if err != nil {
		return err
	}
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.Registry().Close()

	br, err := o.Registry().Load(args[0])
	if err != nil {
		return err
	}

	var p cont.Problem
	var seed []float64
	switch fromSource {
	case "hopf":
		p, seed, err = orchestrator.CycleFromHopf(sys, br, occurrence, ntst, ncol, amplitude)
	case "pd":
		p, seed, err = orchestrator.CycleFromPD(sys, br, occurrence, pdEps)
	default:
		return fmt.Errorf("unknown cycle source %q (hopf or pd)", fromSource)
	}
	if err != nil {
		return err
	}
	r, err := cont.NewRunner(p, seed, cfg.Continuation, true)
	if err != nil {
		return err
	}
	name := branchName
	if name == "" {
		name = args[0] + "_cycle"
	}
	out, err := driveAndStore(o, name, r)
	printBranch(out)
	return err
}

func runCurve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[1:])
	if err != nil {
		return err
	}
	sys, kind, err := cfg.System.Build()
	if err != nil {
		return err
	}
	p2 := param2
	if p2 == "" {
		p2 = cfg.Parameter2
	}
	if p2 == "" {
		return fmt.Errorf("a second free parameter is required (--param2)")
	}
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.Registry().Close()

	br, err := o.Registry().Load(args[0])
	if err != nil {
		return err
	}

	var cp codim2.CurveProblem
	var seed []float64
	switch curveKind {
	case "fold":
		cp, seed, err = orchestrator.FoldCurveFromBranch(sys, kind, br, occurrence, p2)
	case "hopf":
		cp, seed, err = orchestrator.HopfCurveFromBranch(sys, br, occurrence, p2)
	case "lpc":
		cp, seed, err = orchestrator.LPCCurveFromBranch(sys, br, occurrence, p2)
	case "pd":
		cp, seed, err = orchestrator.PDCurveFromBranch(sys, br, occurrence, p2)
	case "ns":
		cp, seed, err = orchestrator.NSCurveFromBranch(sys, br, occurrence, p2)
	case "isochrone":
		cp, seed, err = orchestrator.IsochroneFromBranch(sys, br, p2)
	default:
		return fmt.Errorf("unknown curve kind %q", curveKind)
	}
	if err != nil {
		return err
	}
	r, err := cont.NewRunner(cp, seed, cfg.Continuation, direction(cfg))
	if err != nil {
		return err
	}
	name := branchName
	if name == "" {
		name = args[0] + "_" + curveKind
	}
	out, rerr := driveAndStore(o, name, r)
	printBranch(out)
	if out != nil && outPath != "" {
		curve, cerr := codim2.Curve(cp, out)
		if cerr != nil {
			return cerr
		}
		if serr := export.SaveJSON(outPath, curve); serr != nil {
			return serr
		}
	}
	return rerr
}

func runHomoclinic(cmd *cobra.Command, args []string) error {
	switch fromSource {
	case "cycle":
		return homoclinicFromCycle(args)
	case "saddle":
		return homoclinicFromSaddle(args)
	}
	return fmt.Errorf("unknown homoclinic source %q (cycle or saddle)", fromSource)
}

func homoclinicFromCycle(args []string) error {
	cfg, err := loadConfig(args[1:])
	if err != nil {
		return err
	}
	sys, _, err := cfg.System.Build()
	if err != nil {
		return err
	}
	p2 := param2
	if p2 == "" {
		p2 = cfg.Parameter2
	}
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.Registry().Close()

	br, err := o.Registry().Load(args[0])
	if err != nil {
		return err
	}
	setup, err := orchestrator.HomoclinicFromCycle(sys, br, ntst, ncol, p2)
	if err != nil {
		return err
	}
	p, err := homoclinic.NewProblem(sys, setup)
	if err != nil {
		return err
	}
	end := br.Endpoint(true)
	p1v := br.Points[end].ParamValue
	p2v, err := sys.Param(setup.Param2)
	if err != nil {
		return err
	}
	r, err := cont.NewRunner(p, setup.SeedAug(p1v, p2v), cfg.Continuation, direction(cfg))
	if err != nil {
		return err
	}
	name := branchName
	if name == "" {
		name = args[0] + "_hom"
	}
	out, err := driveAndStore(o, name, r)
	printBranch(out)
	return err
}

func homoclinicFromSaddle(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sys, _, err := cfg.System.Build()
	if err != nil {
		return err
	}
	p2 := param2
	if p2 == "" {
		p2 = cfg.Parameter2
	}
	setup, err := homoclinic.FromSaddle(sys, dynamo.State(cfg.Initial), ntst, ncol,
		cfg.Parameter, p2, 1e-3, 1e-3)
	if err != nil {
		return err
	}
	h, err := homoclinic.NewHomotopy(sys, setup, homoclinic.DefaultHomotopySettings())
	if err != nil {
		return err
	}
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.Registry().Close()

	name := branchName
	if name == "" {
		name = cfg.System.Name + "_hom"
	}
	out, err := driveAndStore(o, name, h)
	printBranch(out)
	if err == nil {
		fmt.Printf("homotopy finished in stage %v: %s\n", h.Stage(), h.Reason())
	}
	return err
}

func runManifold(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sys, kind, err := cfg.System.Build()
	if err != nil {
		return err
	}
	eq, err := equil.Solve(sys, kind, dynamo.State(cfg.Initial), equil.DefaultNewtonSettings())
	if err != nil {
		return err
	}
	stability := manifold.Unstable
	if cfg.Manifold.Stability == "stable" {
		stability = manifold.Stable
	}
	settings := manifold.LocalPreview()
	if cfg.Manifold.Profile == "lorenz_global" {
		settings = manifold.LorenzGlobalKo()
	}
	if cfg.Manifold.MaxRings > 0 {
		settings.MaxRings = cfg.Manifold.MaxRings
	}
	if cfg.Manifold.MaxVertices > 0 {
		settings.MaxVertices = cfg.Manifold.MaxVertices
	}
	if cfg.Manifold.TargetRadius > 0 {
		settings.TargetRadius = cfg.Manifold.TargetRadius
	}
	if cfg.Manifold.TargetArclength > 0 {
		settings.TargetArclength = cfg.Manifold.TargetArclength
	}

	surf, err := manifold.SurfaceFromEquilibrium(sys, eq.State, stability, settings,
		func(ring, vertices int, arclength float64) {
			fmt.Printf("\rring %d  vertices %d  arclength %.3f", ring, vertices, arclength)
		})
	if err != nil {
		return err
	}
	fmt.Printf("\nterminated: %s  vertices %d  max radius %.3f\n",
		surf.Diagnostics.Termination, len(surf.Vertices)/surf.Dim, surf.Diagnostics.MaxRadius)

	if outPath != "" {
		if err := export.SaveJSON(outPath, surf); err != nil {
			return err
		}
	}
	if plotPath != "" {
		return export.SurfaceSilhouette(surf, xAxis, yAxis, cfg.System.Name, plotPath)
	}
	return nil
}

func runLyapunov(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sys, kind, err := cfg.System.Build()
	if err != nil {
		return err
	}
	var stepper integrators.Stepper = integrators.NewRK4()
	if kind.IsMap {
		stepper = integrators.NewDiscreteMap()
	}
	settings := analysis.DefaultLyapunovSettings()
	if cfg.Lyapunov.Steps > 0 {
		settings.Steps = cfg.Lyapunov.Steps
	}
	if cfg.Lyapunov.Dt > 0 {
		settings.Dt = cfg.Lyapunov.Dt
	}
	if cfg.Lyapunov.QRStride > 0 {
		settings.QRStride = cfg.Lyapunov.QRStride
	}
	exponents, err := analysis.LyapunovSpectrum(sys, stepper, dynamo.State(cfg.Initial), settings)
	if err != nil {
		return err
	}
	for i, lam := range exponents {
		fmt.Printf("lambda_%d = %+.6f\n", i+1, lam)
	}
	fmt.Printf("kaplan-yorke dimension = %.4f\n", analysis.KaplanYorke(exponents))
	return nil
}

func parseAxis(s string) (analysis.AxisSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return analysis.AxisSpec{}, fmt.Errorf("axis %q is not var:min:max:samples", s)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return analysis.AxisSpec{}, fmt.Errorf("axis %q: %v", s, err)
	}
	lo, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return analysis.AxisSpec{}, fmt.Errorf("axis %q: %v", s, err)
	}
	hi, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return analysis.AxisSpec{}, fmt.Errorf("axis %q: %v", s, err)
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil {
		return analysis.AxisSpec{}, fmt.Errorf("axis %q: %v", s, err)
	}
	return analysis.AxisSpec{Var: v, Min: lo, Max: hi, Samples: n}, nil
}

func runIsocline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sys, _, err := cfg.System.Build()
	if err != nil {
		return err
	}
	if component < 0 || component >= sys.Dim() {
		return fmt.Errorf("component %d outside system of dimension %d", component, sys.Dim())
	}
	axes := make([]analysis.AxisSpec, 0, len(axisSpecs))
	for _, s := range axisSpecs {
		a, err := parseAxis(s)
		if err != nil {
			return err
		}
		axes = append(axes, a)
	}

	f := func(x dynamo.State) (float64, error) {
		out := make(dynamo.State, sys.Dim())
		if err := sys.Eval(x, out); err != nil {
			return 0, err
		}
		return out[component], nil
	}
	frozen := dynamo.State(cfg.Initial)

	var result any
	switch len(axes) {
	case 1:
		pts, err := analysis.Isocline1D(f, frozen, level, axes[0])
		if err != nil {
			return err
		}
		fmt.Printf("%d level crossings\n", len(pts.Points)/pts.Dim)
		result = pts
	case 2:
		segs, err := analysis.Isocline2D(f, frozen, level, axes[0], axes[1])
		if err != nil {
			return err
		}
		fmt.Printf("%d segments\n", segs.SegmentCount())
		result = segs
	case 3:
		tris, err := analysis.Isocline3D(f, frozen, level, axes[0], axes[1], axes[2])
		if err != nil {
			return err
		}
		fmt.Printf("%d triangles\n", len(tris.Indices)/3)
		result = tris
	default:
		return fmt.Errorf("1 to 3 swept axes required, got %d", len(axes))
	}
	if outPath != "" {
		return export.SaveJSON(outPath, result)
	}
	return nil
}

func listBranches(cmd *cobra.Command, args []string) error {
	reg, err := orchestrator.OpenRegistry(dbPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	infos, err := reg.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no branches stored")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tPOINTS\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.Name, info.Type, info.Points,
			info.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func plotBranch(cmd *cobra.Command, args []string) error {
	reg, err := orchestrator.OpenRegistry(dbPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	br, err := reg.Load(args[0])
	if err != nil {
		return err
	}
	if ascii {
		series := make([]float64, len(br.Points))
		for i, pt := range br.Points {
			sum := 0.0
			for _, v := range pt.State {
				sum += v * v
			}
			series[i] = math.Sqrt(sum)
		}
		fmt.Println(asciigraph.Plot(series,
			asciigraph.Height(12),
			asciigraph.Width(72),
			asciigraph.Caption(fmt.Sprintf("%s: |x| along the branch", args[0]))))
		return nil
	}
	path := outPath
	if path == "" {
		path = args[0] + ".png"
	}
	if err := export.BifurcationDiagram(br, args[0], path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func exportBranch(cmd *cobra.Command, args []string) error {
	reg, err := orchestrator.OpenRegistry(dbPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	br, err := reg.Load(args[0])
	if err != nil {
		return err
	}
	if outPath != "" {
		return export.SaveJSON(outPath, br)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(br)
}
