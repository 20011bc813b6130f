// Package export renders recorded trips for external map tools.
package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/trip"
)

// Track is everything rendered for one trip.
type Track struct {
	Trip    *trip.Trip
	Planned []geo.Point
	Samples []trip.Sample
	Alerts  []alerts.Alert
}

// KML builds the KML document for track: the planned path, the recorded
// samples as a line, and one placemark per alert.
func KML(track Track) *kml.CompoundElement {
	t := track.Trip

	doc := []kml.Element{
		kml.Name(fmt.Sprintf("Trip %s", t.ID)),
		kml.Description(describe(t)),
		kml.SharedStyle("planned",
			kml.LineStyle(kml.Color(color.RGBA{R: 0x33, G: 0x66, B: 0xff, A: 0xcc}), kml.Width(4)),
		),
		kml.SharedStyle("recorded",
			kml.LineStyle(kml.Color(color.RGBA{R: 0x00, G: 0xaa, B: 0x44, A: 0xff}), kml.Width(3)),
		),
		kml.SharedStyle("alert",
			kml.IconStyle(kml.Color(color.RGBA{R: 0xff, G: 0x22, B: 0x22, A: 0xff})),
		),
		kml.Placemark(
			kml.Name("Origin"),
			kml.Point(kml.Coordinates(coordinate(t.Source))),
		),
		kml.Placemark(
			kml.Name("Destination"),
			kml.Description(t.DestinationAddress),
			kml.Point(kml.Coordinates(coordinate(t.Destination))),
		),
	}

	if len(track.Planned) > 1 {
		coords := make([]kml.Coordinate, len(track.Planned))
		for i, p := range track.Planned {
			coords[i] = coordinate(p)
		}
		doc = append(doc, kml.Placemark(
			kml.Name("Planned route"),
			kml.StyleURL("#planned"),
			kml.LineString(kml.Tessellate(true), kml.Coordinates(coords...)),
		))
	}

	if len(track.Samples) > 1 {
		coords := make([]kml.Coordinate, len(track.Samples))
		for i, s := range track.Samples {
			coords[i] = kml.Coordinate{Lon: s.Longitude, Lat: s.Latitude, Alt: s.Altitude}
		}
		doc = append(doc, kml.Placemark(
			kml.Name("Recorded track"),
			kml.StyleURL("#recorded"),
			kml.LineString(kml.Tessellate(true), kml.Coordinates(coords...)),
		))
	}

	if len(track.Alerts) > 0 {
		folder := []kml.Element{kml.Name("Alerts")}
		for _, a := range track.Alerts {
			folder = append(folder, kml.Placemark(
				kml.Name(string(a.Type)),
				kml.Description(a.Description),
				kml.StyleURL("#alert"),
				kml.TimeStamp(kml.When(a.Timestamp)),
				kml.Point(kml.Coordinates(coordinate(a.Location()))),
			))
		}
		doc = append(doc, kml.Folder(folder...))
	}

	return kml.KML(kml.Document(doc...))
}

// Write encodes track as indented KML to w.
func Write(w io.Writer, track Track) error {
	return KML(track).WriteIndent(w, "", "  ")
}

func coordinate(p geo.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}

func describe(t *trip.Trip) string {
	desc := fmt.Sprintf("Status: %s. Deviations: %d. Stops: %d. Alerts: %d.",
		t.Status, t.DeviationCount, t.StopCount, t.AlertCount)
	if t.SourceAddress != "" || t.DestinationAddress != "" {
		desc = fmt.Sprintf("%s to %s. %s", t.SourceAddress, t.DestinationAddress, desc)
	}
	return desc
}
