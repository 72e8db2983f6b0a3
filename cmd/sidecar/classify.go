package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/sidecar/internal/config"
	"github.com/benaskins/sidecar/internal/driver"
	"github.com/benaskins/sidecar/internal/readiness"
	"github.com/benaskins/sidecar/internal/supervisor"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Show which backend log lines would mark it ready",
	Long: "Run captured backend output through the readiness markers. Reads the " +
		"file, or stdin when none is given. Use it to revisit the marker set " +
		"when the backend's log format changes (markers " + readiness.MarkerVersion + ").",
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

var classifyStream string

func init() {
	classifyCmd.Flags().StringVar(&classifyStream, "stream", "stdout", "Stream the lines came from: stdout or stderr")
	rootCmd.AddCommand(classifyCmd)
}

type classifyMatch struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Marker string `json:"marker"`
}

type classifyResult struct {
	Stream  string          `json:"stream"`
	Lines   int             `json:"lines"`
	Matches []classifyMatch `json:"matches"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	var stream driver.Stream
	switch classifyStream {
	case "stdout":
		stream = driver.Stdout
	case "stderr":
		stream = driver.Stderr
	default:
		return fmt.Errorf("--stream must be stdout or stderr, got %q", classifyStream)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	result, err := classify(in, stream, readiness.NewClassifier(cfg.Markers), cfg.Encoding)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(result)
	}

	for _, m := range result.Matches {
		fmt.Printf("%s %s %s\n",
			mutedStyle.Render(fmt.Sprintf("%5d", m.Line)),
			okStyle.Render("READY"),
			m.Text)
		fmt.Println(mutedStyle.Render(fmt.Sprintf("      marker %q", m.Marker)))
	}
	if len(result.Matches) == 0 {
		fmt.Println(warnStyle.Render("no line would mark the backend ready") +
			mutedStyle.Render(fmt.Sprintf(" (%d %s lines read)", result.Lines, result.Stream)))
		return nil
	}
	fmt.Printf("\n%d of %d %s lines match; readiness latches on line %d\n",
		len(result.Matches), result.Lines, result.Stream, result.Matches[0].Line)
	return nil
}

// classify runs every line of r through c as if the backend had written it
// to stream, decoding it the same way the supervisor does.
func classify(r io.Reader, stream driver.Stream, c readiness.Classifier, encoding string) (*classifyResult, error) {
	dec, err := supervisor.NewDecoder(encoding)
	if err != nil {
		return nil, err
	}

	res := &classifyResult{Stream: stream.String(), Matches: []classifyMatch{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		res.Lines++
		text, _ := dec.Decode(sc.Bytes())
		if marker, ok := c.Match(text, stream); ok {
			res.Matches = append(res.Matches, classifyMatch{Line: res.Lines, Text: text, Marker: marker})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return res, nil
}
