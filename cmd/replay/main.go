// Command replay plays a captured diagnostic session back, printing
// each exchange as it's replayed at its original (or scaled) pacing.
// Grounded on the teacher's cmd/replay/main.go (flag.StringVar for
// -file, a -list mode globbing captures/*.json, capture.LoadSession +
// capture.NewReplayer).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/anodyne74/bmw-kwp-engine/internal/capture"
)

func main() {
	var (
		captureFile string
		speed       float64
		list        bool
	)

	flag.StringVar(&captureFile, "file", "", "capture session file to replay")
	flag.Float64Var(&speed, "speed", 1.0, "replay speed multiplier (1.0 = real-time)")
	flag.BoolVar(&list, "list", false, "list available capture files under captures/")
	flag.Parse()

	if list {
		listCaptureFiles()
		return
	}

	if captureFile == "" {
		fmt.Println("specify a capture file with -file, or -list to see available ones")
		os.Exit(1)
	}

	session, err := capture.LoadSession(captureFile)
	if err != nil {
		log.Fatalf("replay: loading session: %v", err)
	}

	replayer := capture.NewReplayer(session)
	replayer.SetSpeed(speed)

	fmt.Printf("Replaying session %q recorded %s\n", session.Label, session.StartTime)
	fmt.Printf("Total exchanges: %d\n", len(session.Exchanges))

	if err := replayer.Play(func(ex capture.Exchange) {
		status := "ok"
		if ex.Err != "" {
			status = "error: " + ex.Err
		}
		fmt.Printf("[%s] ecu=%s service=%#02x req=% x resp=% x (%s)\n",
			ex.Timestamp.Format("15:04:05.000"), ex.EcuID, ex.Service, ex.Request, ex.Response, status)
	}); err != nil {
		log.Fatalf("replay: %v", err)
	}
}

func listCaptureFiles() {
	files, err := filepath.Glob("captures/*.json")
	if err != nil {
		log.Fatalf("replay: listing capture files: %v", err)
	}
	if len(files) == 0 {
		fmt.Println("no capture files found under captures/")
		return
	}

	fmt.Println("Available capture files:")
	for _, file := range files {
		session, err := capture.LoadSession(file)
		if err != nil {
			fmt.Printf("  %s (error: %v)\n", file, err)
			continue
		}
		fmt.Printf("  %s:\n", filepath.Base(file))
		fmt.Printf("    Recorded: %s\n", session.StartTime)
		fmt.Printf("    Duration: %s\n", session.EndTime.Sub(session.StartTime))
		fmt.Printf("    Label: %s\n", session.Label)
		fmt.Printf("    Exchanges: %d\n", len(session.Exchanges))
		fmt.Println()
	}
}
