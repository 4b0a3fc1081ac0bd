// Command nvrctl is a manual-trigger / force-tier-sweep control CLI: it
// publishes a command onto the running nvrd's event bus rather than
// talking to it directly, the same flag-driven action-switch shape as
// the teacher's cmd/disk_manager.go and cmd/upload.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"nvr-core/bus"
	"nvr-core/config"
	"nvr-core/database"
	"nvr-core/hls"
)

func main() {
	action := flag.String("action", "", "Action to perform: record-start, record-stop, tier-sweep, playlist")
	camera := flag.String("camera", "", "Camera ID")
	duration := flag.Int("duration", 0, "record-start: duration in seconds (0 = indefinite)")
	tier := flag.Int("tier", 0, "tier-sweep: tier index to sweep")
	category := flag.String("category", "recorder", "tier-sweep: category")
	subcategory := flag.String("subcategory", "segments", "tier-sweep: subcategory")
	recordingID := flag.String("recording", "", "playlist: recording id")
	flag.Parse()

	procCfg := config.LoadProcessConfig()

	if *action == "" {
		fmt.Println("Error: -action is required")
		flag.Usage()
		os.Exit(1)
	}
	if *camera == "" && *action != "playlist" {
		fmt.Println("Error: -camera is required")
		flag.Usage()
		os.Exit(1)
	}

	switch *action {
	case "record-start":
		publishManual(procCfg, *camera, bus.RecorderManualCommand{Start: true, DurationSeconds: *duration})
	case "record-stop":
		publishManual(procCfg, *camera, bus.RecorderManualCommand{Start: false})
	case "tier-sweep":
		requestTierSweep(procCfg, *camera, *tier, *category, *subcategory)
	case "playlist":
		printPlaylist(procCfg, *recordingID)
	default:
		fmt.Printf("Unknown action: %s\n", *action)
		flag.Usage()
		os.Exit(1)
	}
}

// connectToRunningBus dials the NATS server nvrd already has embedded and
// running, as a plain client connection. It must not start its own
// embedded server the way bus.New does — that would open an isolated bus
// nvrd never hears from.
func connectToRunningBus(procCfg config.ProcessConfig) *nats.Conn {
	url := fmt.Sprintf("nats://%s:%d", procCfg.BusHost, procCfg.BusPort)
	nc, err := nats.Connect(url)
	if err != nil {
		log.Fatalf("failed to connect to nvrd's event bus at %s (is nvrd running?): %v", url, err)
	}
	return nc
}

func publishManual(procCfg config.ProcessConfig, cameraID string, cmd bus.RecorderManualCommand) {
	nc := connectToRunningBus(procCfg)
	defer nc.Close()

	data, err := json.Marshal(cmd)
	if err != nil {
		log.Fatalf("failed to marshal manual command: %v", err)
	}
	subject := bus.RecorderManualSubject(cameraID)
	if err := nc.Publish(subject, data); err != nil {
		log.Fatalf("failed to publish %s: %v", subject, err)
	}
	fmt.Printf("published manual command to %s: %+v\n", subject, cmd)
}

func requestTierSweep(procCfg config.ProcessConfig, cameraID string, tierID int, category, subcategory string) {
	nc := connectToRunningBus(procCfg)
	defer nc.Close()

	subject := bus.TierCheckSubject(cameraID, tierID, category, subcategory)
	if err := nc.Publish(subject, nil); err != nil {
		log.Fatalf("failed to publish %s: %v", subject, err)
	}
	fmt.Printf("requested tier sweep on %s\n", subject)
}

// printPlaylist assembles and prints a recording's playlist directly
// against the Segment Index, for operators debugging a recording without
// going through the HTTP server.
func printPlaylist(procCfg config.ProcessConfig, recordingID string) {
	if recordingID == "" {
		fmt.Println("Error: -recording is required for the playlist action")
		os.Exit(1)
	}

	db, err := database.NewSQLiteDB(procCfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	routes := hls.Routes{
		Fragment: func(f database.File) string {
			return "/hls/" + f.CameraID + "/fragment/" + strconv.Itoa(f.TierID) + "/" + f.Filename
		},
	}

	m3u8, found, err := hls.Recording(db, recordingID, time.Now(), routes)
	if err != nil {
		log.Fatalf("failed to assemble playlist: %v", err)
	}
	if !found {
		fmt.Printf("recording %s not found\n", recordingID)
		os.Exit(1)
	}
	fmt.Print(m3u8)
}
