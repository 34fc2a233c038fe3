package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/providers"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a request or response body between wire formats",
	Long: `Translate a JSON body from one provider's wire format into another's.

Endpoints are written provider/api, e.g. openai/chat_completions,
anthropic/messages or gemini/generate_content. A bare provider name
selects the first API it serves.`,
}

var translateRequestCmd = &cobra.Command{
	Use:   "request [file]",
	Short: "Translate a request body",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTranslateRequest,
}

var translateResponseCmd = &cobra.Command{
	Use:   "response [file]",
	Short: "Translate a non-streaming response body",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTranslateResponse,
}

func init() {
	for _, c := range []*cobra.Command{translateRequestCmd, translateResponseCmd} {
		c.Flags().String("from", "", "source endpoint, provider/api")
		c.Flags().String("to", "", "target endpoint, provider/api")
		c.Flags().Bool("canonical", false, "print the canonical form instead of re-encoding")
		_ = c.MarkFlagRequired("from")
	}

	translateRequestCmd.Flags().String("model", "", "override the request model")
	translateRequestCmd.Flags().String("path", "", "request path, for surfaces that carry the model in the URL")

	translateCmd.AddCommand(translateRequestCmd)
	translateCmd.AddCommand(translateResponseCmd)
}

// endpoint is a provider/api pair given on the command line.
type endpoint struct {
	id  providers.ProviderID
	api providers.API
}

func parseEndpoint(s string) (endpoint, error) {
	name, apiName, hasAPI := strings.Cut(s, "/")

	id, err := providers.ParseProviderID(name)
	if err != nil {
		return endpoint{}, err
	}

	if hasAPI {
		api, err := providers.ParseAPIName(apiName)
		if err != nil {
			return endpoint{}, err
		}

		if _, err := providers.Lookup(id, api); err != nil {
			return endpoint{}, err
		}

		return endpoint{id: id, api: api}, nil
	}

	for _, c := range providers.Capabilities(id) {
		if c.Supported {
			return endpoint{id: id, api: c.API}, nil
		}
	}

	return endpoint{}, fmt.Errorf("%s serves no API", id.DisplayName())
}

// endpoints parses --from and, unless canonical output is asked for, --to.
func endpoints(cmd *cobra.Command) (from, to endpoint, canonical bool, err error) {
	canonical, _ = cmd.Flags().GetBool("canonical")

	fromFlag, _ := cmd.Flags().GetString("from")
	if from, err = parseEndpoint(fromFlag); err != nil {
		return from, to, canonical, fmt.Errorf("--from: %w", err)
	}

	toFlag, _ := cmd.Flags().GetString("to")
	if toFlag == "" {
		if !canonical {
			return from, to, canonical, fmt.Errorf("--to is required unless --canonical is set")
		}

		return from, to, canonical, nil
	}

	if to, err = parseEndpoint(toFlag); err != nil {
		return from, to, canonical, fmt.Errorf("--to: %w", err)
	}

	return from, to, canonical, nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}

	return os.ReadFile(args[0])
}

func runTranslateRequest(cmd *cobra.Command, args []string) error {
	from, to, canonical, err := endpoints(cmd)
	if err != nil {
		return err
	}

	body, err := readInput(cmd, args)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var opts []providers.Option

	if path, _ := cmd.Flags().GetString("path"); path != "" {
		opts = append(opts, providers.WithPath(path))
	}

	if model, _ := cmd.Flags().GetString("model"); model != "" {
		opts = append(opts, providers.WithModel(model))
	}

	req, err := providers.ParseRequest(from.id, from.api, body, opts...)
	if err != nil {
		return err
	}

	if canonical {
		return printJSON(cmd.OutOrStdout(), req)
	}

	enc, err := providers.SerializeRequest(to.id, to.api, req)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	color.New(color.FgCyan).Fprintf(stderr, "POST %s\n", enc.Path)

	for _, d := range enc.Downgrades {
		color.New(color.FgYellow).Fprintf(stderr, "downgraded: %s\n", d)
	}

	return printBody(cmd.OutOrStdout(), enc.Body)
}

func runTranslateResponse(cmd *cobra.Command, args []string) error {
	from, to, canonical, err := endpoints(cmd)
	if err != nil {
		return err
	}

	body, err := readInput(cmd, args)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	resp, err := providers.ParseResponse(from.id, from.api, body)
	if err != nil {
		return err
	}

	if canonical {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	out, err := providers.SerializeResponse(to.id, to.api, resp)
	if err != nil {
		return err
	}

	return printBody(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

func printBody(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		buf.Reset()
		buf.Write(body)
	}

	_, err := fmt.Fprintln(w, buf.String())

	return err
}
