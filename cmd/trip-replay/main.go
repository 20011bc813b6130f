package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/monitor"
	"github.com/tripwatch/server/internal/lib/polyline"
	"github.com/tripwatch/server/internal/lib/trip"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "replay":
		handleReplay()
	case "decode":
		handleDecode()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleReplay() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	samplesFile := fs.String("samples", "", "Path to JSONL file, one location sample per line")
	encoded := fs.String("polyline", "", "Encoded polyline of the planned path")
	dest := fs.String("destination", "", "Destination as lat,lng (defaults to the last path point)")
	deviation := fs.Float64("deviation-threshold", monitor.DefaultConfig().DeviationThreshold, "Deviation threshold in meters")
	verbose := fs.Bool("verbose", false, "Print every sample, not only the ones that raise alerts")

	fs.Parse(os.Args[2:])

	if *samplesFile == "" {
		fmt.Println("Example usage:")
		fmt.Println("  trip-replay replay --samples trip.jsonl --polyline '_p~iF~ps|U_ulLnnqC'")
		fmt.Println("  trip-replay replay --samples trip.jsonl --polyline '...' --destination 37.0,-121.98 --verbose")
		os.Exit(1)
	}

	path := polyline.Decode(*encoded)
	target := monitor.Target{TripID: "replay", UserID: "replay", Path: path}
	switch {
	case *dest != "":
		p, err := parsePoint(*dest)
		if err != nil {
			log.Fatalf("Invalid destination: %v", err)
		}
		target.Destination = p
	case len(path) > 0:
		target.Destination = path[len(path)-1]
	default:
		log.Fatal("A destination or a non-empty polyline is required")
	}

	samples, err := readSamples(*samplesFile)
	if err != nil {
		log.Fatalf("Error reading samples: %v", err)
	}

	cfg := monitor.DefaultConfig()
	cfg.DeviationThreshold = *deviation
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid thresholds: %v", err)
	}
	processor := monitor.NewProcessor(cfg)
	var (
		state    monitor.State
		counters trip.Counters
	)

	fmt.Printf("Replaying %d samples against %d path points (%.0f m)\n\n",
		len(samples), len(path), geo.PathLength(path))

	for i, s := range samples {
		res := processor.Process(&state, target, s)
		counters = counters.Add(res.Counters)

		if *verbose || len(res.Alerts) > 0 {
			offset := "no path"
			if res.Match.Found() {
				offset = fmt.Sprintf("%.0f m off path at index %d", res.Match.Distance, res.Match.Index)
			}
			fmt.Printf("#%-4d %s  %.5f,%.5f  %s\n", i, s.Timestamp.Format("15:04:05"), s.Latitude, s.Longitude, offset)
		}
		for _, a := range res.Alerts {
			fmt.Printf("      ALERT %-16s %s\n", a.Type, a.Description)
		}
		if res.Arrived {
			fmt.Printf("\nArrived at sample #%d; remaining samples ignored\n", i)
			break
		}
	}

	fmt.Printf("\nDeviations: %d  Stops: %d  Alerts: %d\n", counters.DeviationCount, counters.StopCount, counters.AlertCount)
}

func handleDecode() {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	encoded := fs.String("polyline", "", "Encoded polyline to decode")
	fs.Parse(os.Args[2:])

	points, err := polyline.DecodeStrict(*encoded)
	if err != nil {
		log.Fatalf("Invalid polyline: %v", err)
	}
	out, _ := json.MarshalIndent(points, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("\n%d points, %.0f m\n", len(points), geo.PathLength(points))
}

func readSamples(name string) ([]trip.Sample, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []trip.Sample
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var s trip.Sample
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("line-%d", line)
		}
		samples = append(samples, s)
	}
	return samples, scanner.Err()
}

func parsePoint(s string) (geo.Point, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("expected lat,lng, got %q", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return geo.Point{}, err
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.NewPoint(la, ln)
}

func printUsage() {
	fmt.Println("trip-replay - replay recorded location samples through the trip monitor")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  trip-replay <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  replay   Classify a JSONL sample file against a planned path")
	fmt.Println("  decode   Decode an encoded polyline to points")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Println("Sample line format:")
	fmt.Println(`  {"latitude":37.0,"longitude":-122.0,"speed":8.2,"timestamp":"2026-03-01T08:00:00Z","batteryLevel":64}`)
}
