package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newServicesCmd(root *rootOptions) *cobra.Command {
	var output, matchURL, method string
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Print the AI services the notifier watches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			matcher, err := loadMatcher(cfg.ServicesFile)
			if err != nil {
				return err
			}

			if matchURL != "" {
				id, ok := matcher.Match(matchURL, strings.ToUpper(method))
				if !ok {
					pterm.Info.Printfln("%s %s is not a completion request of any service", strings.ToUpper(method), matchURL)
					return nil
				}
				pterm.Success.Printfln("%s %s matches %s", strings.ToUpper(method), matchURL, matcher.Name(id))
				return nil
			}

			infos := matcher.Infos()
			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			return pterm.DefaultTable.WithHasHeader().WithData(servicesTable(infos)).Render()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format (json)")
	cmd.Flags().StringVar(&matchURL, "match", "", "report which service, if any, a request URL belongs to")
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method used with --match")
	return cmd
}

func servicesTable(infos []service.Info) pterm.TableData {
	rows := pterm.TableData{{"Priority", "ID", "Name", "URL patterns"}}
	for i, info := range infos {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(info.ID),
			info.Name,
			strings.Join(info.URLPatterns, ", "),
		})
	}
	return rows
}
