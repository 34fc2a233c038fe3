package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/providers"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

var decodeStreamCmd = &cobra.Command{
	Use:   "decode-stream [file]",
	Short: "Decode a captured SSE stream",
	Long: `Decode a server-sent event stream captured from a provider.

Each canonical chunk is printed as one JSON line. With --to the chunks are
re-encoded as SSE frames of another wire format instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecodeStream,
}

func init() {
	decodeStreamCmd.Flags().String("from", "", "source endpoint, provider/api")
	decodeStreamCmd.Flags().String("to", "", "re-encode for this endpoint, provider/api")
	decodeStreamCmd.Flags().Int("read-size", 4096, "bytes fed to the decoder per write")
	_ = decodeStreamCmd.MarkFlagRequired("from")
}

func runDecodeStream(cmd *cobra.Command, args []string) error {
	fromFlag, _ := cmd.Flags().GetString("from")

	from, err := parseEndpoint(fromFlag)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}

	stream, err := providers.OpenStream(from.id, from.api)
	if err != nil {
		return err
	}

	var enc *providers.StreamEncoder

	if toFlag, _ := cmd.Flags().GetString("to"); toFlag != "" {
		to, err := parseEndpoint(toFlag)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		if enc, err = providers.NewStreamEncoder(to.id, to.api); err != nil {
			return err
		}
	}

	input, err := readInput(cmd, args)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	size, _ := cmd.Flags().GetInt("read-size")
	if size <= 0 {
		size = len(input) + 1
	}

	d := &streamPrinter{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), enc: enc}

	for len(input) > 0 {
		n := min(size, len(input))
		if _, err := stream.Write(input[:n]); err != nil {
			return err
		}

		input = input[n:]

		if err := d.drain(stream); err != nil {
			return err
		}
	}

	stream.Close()

	if err := d.drain(stream); err != nil {
		return err
	}

	if enc != nil {
		if _, err := d.out.Write(enc.End()); err != nil {
			return err
		}
	}

	logger.Debug("Stream decoded", "chunks", stream.Chunks(), "state", stream.State())

	return nil
}

type streamPrinter struct {
	out    io.Writer
	errOut io.Writer
	enc    *providers.StreamEncoder
}

// drain prints every chunk that is ready. Bad frames are reported and
// skipped; an abnormal end is returned.
func (p *streamPrinter) drain(s *providers.Stream) error {
	for {
		chunk, err := s.Next()

		switch {
		case err == nil:
			if err := p.print(chunk); err != nil {
				return err
			}
		case errors.Is(err, sse.ErrIncomplete), errors.Is(err, io.EOF):
			return nil
		default:
			var e *canonical.Error
			if errors.As(err, &e) && e.Recoverable() {
				color.New(color.FgYellow).Fprintf(p.errOut, "skipped: %v\n", err)
				continue
			}

			return err
		}
	}
}

func (p *streamPrinter) print(chunk *canonical.StreamChunk) error {
	if p.enc != nil {
		frame, err := p.enc.EncodeChunk(chunk)
		if err != nil {
			return err
		}

		_, err = p.out.Write(frame)

		return err
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(p.out, string(data))

	return err
}
