package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"astromorph/internal/directory"
	"astromorph/internal/pipeline"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "astromorph",
		Short: "Astromorph measures the morphology of galaxies in survey cutouts",
		Long: `Astromorph downloads a survey cutout of a physical size around a galaxy,
subtracts the sky, masks foreground stars, segments the field and measures
non-parametric and Sérsic morphology of the target, one table row per object.`,
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			root.writeMetrics()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&root.opts.paramsFile, "params", "", "YAML run parameter file")
	pf.StringVar(&root.opts.surveyName, "survey", "", "survey (legacy|sdss|splus), config default if empty")
	pf.StringVarP(&root.opts.band, "band", "b", "", "band to measure")
	pf.Float64VarP(&root.opts.sizeKpc, "size", "s", 0, "physical half-side of the cutout in kpc")
	pf.Float64Var(&root.opts.psf, "psf", 0, "PSF FWHM in arcsec, skips the survey lookup")
	pf.BoolVar(&root.opts.maskStars, "mask-stars", false, "mask point sources before segmentation")
	pf.BoolVar(&root.opts.deblend, "deblend", false, "deblend overlapping segments")
	pf.StringVar(&root.opts.engine, "engine", "", "morphology engine (statmorph|remote|native)")
	pf.BoolVar(&root.opts.diagnostics, "diagnostics", root.cfg.Processing.Diagnostic, "write PNG diagnostics")

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newPrepareCmd(root))
	rootCmd.AddCommand(newCommitCmd(root))
	rootCmd.AddCommand(newMassCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newResolveCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newEnginesCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// setup resolves the run parameters of cmd and builds the pipeline.
func (r *Root) setup(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	params, err := r.params(cmd.Flags().Changed)
	if err != nil {
		return nil, err
	}
	return r.newPipeline(params)
}

func newRunCmd(root *Root) *cobra.Command {
	var listFile string

	cmd := &cobra.Command{
		Use:   "run [target...]",
		Short: "Measure the central object of each target",
		Long: `Resolve each target, acquire its cutout and measure the object at the
image center. A target is an object name or "ra dec" in degrees.

Examples:
  astromorph run NGC4030 --band r --size 50
  astromorph run "180.0983 -1.1003" --survey sdss
  astromorph run --list targets.txt --mask-stars`,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := entries(args, listFile)
			if err != nil {
				return err
			}
			p, err := root.setup(cmd)
			if err != nil {
				return err
			}
			return root.runTargets(cmd.Context(), p, list, listFile)
		},
	}
	cmd.Flags().StringVarP(&listFile, "list", "l", "", "target list file (name or ra dec, optional band and size per line)")
	return cmd
}

func newPrepareCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <target>",
		Short: "Acquire and segment a target without measuring it",
		Long: `Run acquisition, sky subtraction, star masking and segmentation, then list
the segments so targets can be picked for commit. The central segment is
marked with *.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			p, err := root.setup(cmd)
			if err != nil {
				return err
			}
			return root.cmdPrepare(cmd.Context(), p, spec)
		},
	}
}

func newCommitCmd(root *Root) *cobra.Command {
	var (
		labels    []int
		nicknames []string
	)

	cmd := &cobra.Command{
		Use:   "commit <target> --labels 3,7 [--nicknames A,B]",
		Short: "Measure chosen segments of a prepared target",
		Long: `Measure the given segmentation labels, as listed by prepare. Rows are keyed
by object name plus nickname; nicknames default to A, B, C...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(labels) == 0 {
				return fmt.Errorf("commit needs at least one label")
			}
			spec, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			p, err := root.setup(cmd)
			if err != nil {
				return err
			}
			return root.cmdCommit(cmd.Context(), p, spec, labels, nicknames)
		},
	}
	cmd.Flags().IntSliceVar(&labels, "labels", nil, "segmentation labels to measure")
	cmd.Flags().StringSliceVar(&nicknames, "nicknames", nil, "row suffix per label")
	return cmd
}

func newMassCmd(root *Root) *cobra.Command {
	var bands []string

	cmd := &cobra.Command{
		Use:   "mass <key>",
		Short: "Add magnitudes, colors and stellar mass to a measured row",
		Long: `Measure the flux inside twice the Sérsic half-light ellipse of a row in
each band and derive magnitudes, colors and the stellar mass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := root.setup(cmd)
			if err != nil {
				return err
			}
			return root.cmdMass(cmd.Context(), p, args[0], bands)
		},
	}
	cmd.Flags().StringSliceVar(&bands, "bands", nil, "bands to measure (default g,r,z)")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch <directory...>",
		Short: "Run every target added to list files in directories",
		Long: `Process the target lists (.txt, .lst, .csv, .tab) found in the directories,
then keep watching them. Lines added to a list are queued as they appear.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := root.setup(cmd)
			if err != nil {
				return err
			}
			return root.cmdWatch(cmd.Context(), p, args, settle)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "quiet period before a changed list is read")
	return cmd
}

func newResolveCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <target...>",
		Short: "Look targets up and show the cutout geometry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := root.params(cmd.Flags().Changed)
			if err != nil {
				return err
			}
			list, err := entries(args, "")
			if err != nil {
				return err
			}
			specs := make([]directory.Target, 0, len(list))
			for _, e := range list {
				specs = append(specs, e.Target)
			}
			return root.cmdResolve(cmd.Context(), params, specs)
		},
	}
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [key]",
		Short: "Show recent runs, or every update of one table row",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return root.cmdHistory(key, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration and run parameters",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	paramsCmd := &cobra.Command{
		Use:   "params",
		Short: "Print the effective run parameters as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := root.params(cmd.Flags().Changed)
			if err != nil {
				return err
			}
			return root.configParams(params)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the run parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := root.params(cmd.Flags().Changed)
			if err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid", "survey", params.Survey)
			fmt.Fprintln(root.out, "parameters are valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, paramsCmd, validateCmd)
	return cmd
}

func newEnginesCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "Show morphology engine availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdEngines()
		},
	}
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}
