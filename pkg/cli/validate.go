package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/touchflow/pkg/validator"
)

func includeTagsFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "include-tags",
		Usage: "Only use flows with at least one of these tags",
	}
}

func excludeTagsFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "exclude-tags",
		Usage: "Skip flows with any of these tags",
	}
}

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files without a device",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Parse every flow, check swipe directions and script syntax, and report
all errors at once.

Examples:
  touchflow validate flows/
  touchflow validate flows/ --include-tags smoke`,
	Flags: []cli.Flag{
		includeTagsFlag(),
		excludeTagsFlag(),
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one flow file or directory is required")
	}
	result := validator.New(c.StringSlice("include-tags"), c.StringSlice("exclude-tags")).
		Validate(c.Args().Slice()...)

	for _, f := range result.Flows {
		fmt.Fprintf(c.App.Writer, "  %s✓%s %s (%d steps)\n",
			color(colorGreen), color(colorReset), f.SourcePath, len(f.Steps))
	}
	for _, err := range result.Errors {
		fmt.Fprintf(c.App.Writer, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
	}
	if result.Filtered > 0 {
		fmt.Fprintf(c.App.Writer, "  %s%d flow(s) excluded by tags%s\n", color(colorGray), result.Filtered, color(colorReset))
	}

	if !result.IsValid() {
		return fmt.Errorf("%d validation error(s)", len(result.Errors))
	}
	return nil
}
