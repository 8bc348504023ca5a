package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gocrud/beans/manifest"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// checkResult check --json 的输出
type checkResult struct {
	Beans    int      `json:"beans"`
	Problems []string `json:"problems,omitempty"`
	Creation []string `json:"creation"`
	Teardown []string `json:"teardown"`
	Lazy     []string `json:"lazy,omitempty"`
}

// beanctl check <manifest.yaml>
func newCheckCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <manifest.yaml>",
		Short: "Validate a bean manifest and print creation and teardown order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadFile(args[0])
			if err != nil {
				return err
			}
			// 工厂函数只在应用内可见，这里不检查
			report, verr := manifest.Validate(m, nil)

			res := checkResult{
				Beans:    len(m.Beans),
				Creation: report.Creation,
				Teardown: report.Teardown,
				Lazy:     report.Lazy,
			}
			for _, e := range multierr.Errors(verr) {
				res.Problems = append(res.Problems, e.Error())
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printResult(out, res)
			}
			if len(res.Problems) > 0 {
				return fmt.Errorf("%s: %d problem(s)", args[0], len(res.Problems))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(w io.Writer, res checkResult) {
	fmt.Fprintf(w, "beans: %d\n", res.Beans)
	if len(res.Problems) > 0 {
		fmt.Fprintln(w, "problems:")
		for _, p := range res.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		return
	}
	fmt.Fprintf(w, "creation: %s\n", strings.Join(res.Creation, " -> "))
	fmt.Fprintf(w, "teardown: %s\n", strings.Join(res.Teardown, " -> "))
	if len(res.Lazy) > 0 {
		fmt.Fprintf(w, "lazy: %s\n", strings.Join(res.Lazy, ", "))
	}
}
