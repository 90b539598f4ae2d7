package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuramp/internal/config"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured scenarios",
		Long: `List every scenario in the configuration with its executor, planned
duration, peak VUs and resolved target. Targets that depend on unset
variables show which variable is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := a.loadConfig()
			if err != nil {
				return &ExitCodeError{Code: ExitError, Err: err}
			}
			env := config.LoadEnvironment(a.viper)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n\n", source)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEXECUTOR\tDURATION\tPEAK VUS\tSTAGES\tTARGET")
			for _, name := range cfg.Names() {
				sc, _ := cfg.Scenario(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					name,
					sc.Executor,
					planned(sc),
					peakVUs(sc),
					stagesSummary(sc),
					targetSummary(cfg, name, env.Variables()))
			}
			return w.Flush()
		},
	}
}

func planned(sc *config.ScenarioConfig) string {
	d, err := config.ParseScenarioDuration(sc)
	if err != nil {
		return "-"
	}
	return d.String()
}

func peakVUs(sc *config.ScenarioConfig) int {
	peak := sc.VUs
	for _, stage := range sc.Stages {
		peak = max(peak, stage.Target)
	}
	return peak
}

func stagesSummary(sc *config.ScenarioConfig) string {
	if len(sc.Stages) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(sc.Stages))
	for _, stage := range sc.Stages {
		parts = append(parts, stage.Duration.String()+":"+strconv.Itoa(stage.Target))
	}
	return strings.Join(parts, ",")
}

func targetSummary(cfg *config.TestConfig, name string, vars map[string]string) string {
	httpCfg, err := cfg.ConvertToWorkloadConfig(name, vars)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return httpCfg.Method + " " + httpCfg.URL
}
