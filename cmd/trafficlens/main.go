package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trafficlens/trafficlens/pkg/engine"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	dbPath     string
	modulesDir string
	devReload  bool
	logLevel   string
	outputFile string

	// Project flags
	projectName string
	allowHosts  []string
	denyHosts   []string
	projectQPS  float64
	roeJSON     string

	// Import flags
	importDedup bool

	// Run flags
	runParams  string
	actionKeys []string

	// Action flags
	withRisk bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trafficlens",
		Short: "TrafficLens - HTTP traffic triage engine",
		Long: `TrafficLens - An offline triage engine for captured HTTP traffic.

Imports HAR captures into projects, aggregates requests into templated
actions, scores them for manual-testing priority, and runs pluggable
analysis modules over the results.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file path")
	rootCmd.PersistentFlags().StringVar(&modulesDir, "modules-dir", "", "Directory with .tengo modules")
	rootCmd.PersistentFlags().BoolVar(&devReload, "dev-reload", false, "Rescan modules before every command")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	// Project commands
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	projectCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE:  runProjectCreate,
	}
	projectCreateCmd.Flags().StringVarP(&projectName, "name", "n", "", "Project name")
	projectCreateCmd.Flags().StringArrayVar(&allowHosts, "allow", nil, "In-scope host or URL (repeatable)")
	projectCreateCmd.Flags().StringArrayVar(&denyHosts, "deny", nil, "Denylisted host or URL (repeatable)")
	projectCreateCmd.Flags().Float64Var(&projectQPS, "qps", 1.0, "Rules-of-engagement request rate")
	projectCreateCmd.MarkFlagRequired("name")

	projectListCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE:  runProjectList,
	}

	projectShowCmd := &cobra.Command{
		Use:   "show [project-id]",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE:  runProjectShow,
	}

	projectUpdateCmd := &cobra.Command{
		Use:   "update [project-id]",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runProjectUpdate,
	}
	projectUpdateCmd.Flags().StringVarP(&projectName, "name", "n", "", "Project name")
	projectUpdateCmd.Flags().StringArrayVar(&allowHosts, "allow", nil, "Replacement in-scope list (repeatable)")
	projectUpdateCmd.Flags().StringArrayVar(&denyHosts, "deny", nil, "Replacement denylist (repeatable)")
	projectUpdateCmd.Flags().Float64Var(&projectQPS, "qps", 0, "Rules-of-engagement request rate")
	projectUpdateCmd.Flags().StringVar(&roeJSON, "roe", "", "Rules-of-engagement JSON")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd, projectUpdateCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [project-id] [capture.har]",
		Short: "Import a HAR capture into a project",
		Args:  cobra.ExactArgs(2),
		RunE:  runImport,
	}
	importCmd.Flags().BoolVar(&importDedup, "dedup", false, "Skip records already stored for the project")

	// Actions command
	actionsCmd := &cobra.Command{
		Use:   "actions [project-id]",
		Short: "Show a project's aggregated actions",
		Args:  cobra.ExactArgs(1),
		RunE:  runActions,
	}
	actionsCmd.Flags().BoolVar(&withRisk, "risk", true, "Attach risk scores and tags")

	// Module commands
	modulesCmd := &cobra.Command{
		Use:   "modules",
		Short: "List available analysis modules",
		RunE:  runModules,
	}

	// Run commands
	runCmd := &cobra.Command{
		Use:   "run [project-id] [module-id]",
		Short: "Execute an analysis module against a project",
		Args:  cobra.ExactArgs(2),
		RunE:  runExecute,
	}
	runCmd.Flags().StringVar(&runParams, "params", "", "Module parameters as a JSON object")
	runCmd.Flags().StringArrayVar(&actionKeys, "action-key", nil, "Restrict the module to these action keys (repeatable)")

	runsCmd := &cobra.Command{
		Use:   "runs [project-id]",
		Short: "List a project's runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runRuns,
	}

	findingsCmd := &cobra.Command{
		Use:   "findings [run-id]",
		Short: "List the findings a run produced",
		Args:  cobra.ExactArgs(1),
		RunE:  runFindings,
	}

	summaryCmd := &cobra.Command{
		Use:   "summary [project-id]",
		Short: "Show a project overview",
		Args:  cobra.ExactArgs(1),
		RunE:  runSummary,
	}

	rootCmd.AddCommand(projectCmd, importCmd, actionsCmd, modulesCmd, runCmd, runsCmd, findingsCmd, summaryCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openEngine builds an engine from the config file with flag overrides.
func openEngine(extra ...engine.Option) (*engine.Engine, error) {
	cfg := engine.DefaultConfig()
	if configFile != "" {
		loaded, err := engine.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	opts := []engine.Option{engine.WithConfig(cfg)}
	if dbPath != "" {
		opts = append(opts, engine.WithDBPath(dbPath))
	}
	if modulesDir != "" {
		opts = append(opts, engine.WithModulesDir(modulesDir))
	}
	if devReload {
		opts = append(opts, engine.WithDevReload(true))
	}
	if logLevel != "" {
		opts = append(opts, engine.WithLogLevel(logLevel))
	}
	opts = append(opts, extra...)
	return engine.New(opts...)
}

func parseProjectID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid project id %q", arg)
	}
	return id, nil
}

// emit writes v as indented JSON to the output file or stdout.
func emit(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if outputFile != "" {
		return os.WriteFile(outputFile, data, 0644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.CreateProject(projectName,
		strings.Join(allowHosts, "\n"), strings.Join(denyHosts, "\n"), projectQPS)
	if err != nil {
		return err
	}
	return emit(p)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	projects, err := e.Projects()
	if err != nil {
		return err
	}
	return emit(projects)
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.Project(id)
	if err != nil {
		return err
	}
	return emit(p)
}

func runProjectUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	upd := engine.ProjectUpdate{}
	if cmd.Flags().Changed("name") {
		upd.Name = &projectName
	}
	if cmd.Flags().Changed("allow") {
		text := strings.Join(allowHosts, "\n")
		upd.AllowText = &text
	}
	if cmd.Flags().Changed("deny") {
		text := strings.Join(denyHosts, "\n")
		upd.DenyText = &text
	}
	if cmd.Flags().Changed("qps") {
		upd.QPS = &projectQPS
	}
	if cmd.Flags().Changed("roe") {
		upd.ROE = []byte(roeJSON)
	}

	p, err := e.UpdateProject(id, upd)
	if err != nil {
		return err
	}
	return emit(p)
}

func runImport(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var extra []engine.Option
	if importDedup {
		extra = append(extra, engine.WithDedup(true))
	}
	e, err := openEngine(extra...)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.ImportHAR(id, f)
	if err != nil {
		return err
	}
	return emit(stats)
}

func runActions(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	acts, err := e.Actions(id, withRisk)
	if err != nil {
		return err
	}
	return emit(acts)
}

func runModules(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	out := struct {
		Modules    interface{} `json:"modules"`
		LoadErrors []string    `json:"load_errors,omitempty"`
	}{}
	for _, loadErr := range e.RefreshModules() {
		out.LoadErrors = append(out.LoadErrors, loadErr.Error())
	}
	out.Modules = e.Modules()
	return emit(out)
}

func runExecute(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	run, execErr := e.Execute(id, args[1], runParams, actionKeys)
	if run != nil {
		if err := emit(run); err != nil {
			return err
		}
	}
	return execErr
}

func runRuns(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	runs, err := e.Runs(id)
	if err != nil {
		return err
	}
	return emit(runs)
}

func runFindings(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	findings, err := e.Findings(args[0])
	if err != nil {
		return err
	}
	return emit(findings)
}

func runSummary(cmd *cobra.Command, args []string) error {
	id, err := parseProjectID(args[0])
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	sum, err := e.Summary(id)
	if err != nil {
		return err
	}
	return emit(sum)
}
