// Command classify prints the status label of face poses.
//
// With -pitch, -yaw or -smile it classifies that single pose. Otherwise it
// reads {"pitch":..,"yaw":..,"smile":..} JSON lines from stdin and prints one
// label per line.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dj-oyu/face-status-server/internal/facestatus"
)

var (
	pitch    = flag.Float64("pitch", 0, "Pitch in degrees (positive is up)")
	yaw      = flag.Float64("yaw", 0, "Yaw in degrees (positive is right)")
	smile    = flag.Float64("smile", 0, "Smiling probability")
	jsonOut  = flag.Bool("json", false, "Print {\"tags\",\"status\"} objects instead of labels")
	failFast = flag.Bool("strict", false, "Stop at the first malformed line")
)

type output struct {
	Tags   []string `json:"tags"`
	Status string   `json:"status"`
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	single := false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pitch", "yaw", "smile":
			single = true
		}
	})

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if single {
		p := facestatus.Pose{PitchDegrees: *pitch, YawDegrees: *yaw, SmileScore: *smile}
		if err := write(out, facestatus.Classify(p)); err != nil {
			log.Fatalf("write: %v", err)
		}
		return
	}

	if err := classifyLines(os.Stdin, out); err != nil {
		out.Flush()
		log.Fatal(err)
	}
}

// classifyLines classifies every JSON line of r. Malformed lines are
// reported on stderr and produce an empty line unless -strict is set.
func classifyLines(r io.Reader, w *bufio.Writer) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var p facestatus.Pose
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			if *failFast {
				return fmt.Errorf("line %d: %w", line, err)
			}
			log.Printf("line %d: %v", line, err)
			if _, err := w.WriteString("\n"); err != nil {
				return err
			}
			continue
		}

		if err := write(w, facestatus.Classify(p)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func write(w *bufio.Writer, result facestatus.Result) error {
	if *jsonOut {
		data, err := json.Marshal(output{Tags: result.Strings(), Status: result.String()})
		if err != nil {
			return err
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	}
	_, err := fmt.Fprintln(w, result.String())
	return err
}
