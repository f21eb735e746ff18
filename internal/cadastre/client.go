// Package cadastre talks to the public cadastral map service and turns its
// search results into CadastralInfo.
package cadastre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/models"
)

// ErrNotFound is returned when the service has no parcel for the number.
var ErrNotFound = errors.New("cadastral object not found")

// SearchPath is the geoportal search endpoint relative to the base URL.
const SearchPath = "/api/geoportal/v2/search/geoportal"

// webMercatorExtent is the EPSG:3857 half-width of the world in meters.
const webMercatorExtent = 20037508.34

// Coordinate orders accepted by ClientOptions.CoordsOrder.
const (
	OrderLatLon = "lat,lon"
	OrderLonLat = "lon,lat"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL     string
	CoordsOrder string
	Timeout     time.Duration
	RetryCount  int
}

// Client is a resty-backed lookup against the cadastral map service.
type Client struct {
	http     *resty.Client
	log      *logger.Logger
	swapAxes bool
}

// NewClient creates a Client.
func NewClient(opts ClientOptions, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.7").
		SetHeader("User-Agent", "plotsync/1.0").
		SetHeader("Referer", strings.TrimRight(opts.BaseURL, "/")+"/map")

	return &Client{
		http:     httpClient,
		log:      log,
		swapAxes: opts.CoordsOrder == OrderLonLat,
	}
}

type searchResponse struct {
	Data struct {
		Features []feature `json:"features"`
	} `json:"data"`
	Message string `json:"message"`
}

type feature struct {
	Geometry   *geometry         `json:"geometry"`
	Properties featureProperties `json:"properties"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type featureProperties struct {
	CadastralNumber string `json:"cadastral_number"`
	Address         string `json:"address"`
	CategoryID      string `json:"category_id"`
	UtilizationID   string `json:"utilization_id"`
}

// Resolve looks one cadastral number up.
func (c *Client) Resolve(ctx context.Context, cadastral string) (*models.CadastralInfo, error) {
	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", cadastral).
		ForceContentType("application/json").
		SetResult(&body).
		Get(SearchPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query cadastral service for %s: %w", cadastral, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cadastral)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cadastral service returned %d for %s", resp.StatusCode(), cadastral)
	}

	if len(body.Data.Features) == 0 || body.Data.Features[0].Geometry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cadastral)
	}
	f := body.Data.Features[0]

	info := &models.CadastralInfo{
		Address:    strings.TrimSpace(f.Properties.Address),
		LandStatus: DetectLandStatus(f.Properties.CategoryID, f.Properties.UtilizationID),
	}
	info.District, info.Settlement = ParseAddress(info.Address)

	hasContour := f.Geometry.Type == "Polygon" || f.Geometry.Type == "MultiPolygon"
	info.HasContour = &hasContour

	if x, y, ok := centroid(f.Geometry); ok {
		lat, lon := mercatorToWGS84(x, y)
		if c.swapAxes {
			lat, lon = lon, lat
		}
		info.CenterLat, info.CenterLon = &lat, &lon
	}

	c.log.Debug("cadastral lookup succeeded", map[string]interface{}{
		"cadastral_number": cadastral,
		"geometry_type":    f.Geometry.Type,
		"has_center":       info.HasCenter(),
	})

	return info, nil
}

// centroid averages the vertices of the first ring of a polygon, or returns
// the point itself.
func centroid(g *geometry) (float64, float64, bool) {
	var ring [][]float64
	switch g.Type {
	case "Point":
		var pt []float64
		if err := json.Unmarshal(g.Coordinates, &pt); err != nil || len(pt) < 2 {
			return 0, 0, false
		}
		return pt[0], pt[1], true
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil || len(rings) == 0 {
			return 0, 0, false
		}
		ring = rings[0]
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil || len(polys) == 0 || len(polys[0]) == 0 {
			return 0, 0, false
		}
		ring = polys[0][0]
	default:
		return 0, 0, false
	}

	var sumX, sumY float64
	count := 0
	for _, pt := range ring {
		if len(pt) < 2 {
			continue
		}
		sumX += pt[0]
		sumY += pt[1]
		count++
	}
	if count == 0 {
		return 0, 0, false
	}
	return sumX / float64(count), sumY / float64(count), true
}

// mercatorToWGS84 converts EPSG:3857 meters to latitude and longitude degrees.
func mercatorToWGS84(x, y float64) (lat, lon float64) {
	lon = x * 180 / webMercatorExtent
	lat = y * 180 / webMercatorExtent
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180)) - math.Pi/2)
	return lat, lon
}

// DetectLandStatus maps the service's permitted use and category onto a land
// status label. It returns "" when nothing matches.
func DetectLandStatus(category, use string) string {
	category = strings.ToLower(category)
	use = strings.ToLower(use)

	switch {
	case strings.Contains(use, "ижс") || (strings.Contains(use, "индивидуальн") && strings.Contains(use, "жилищн")):
		return "ИЖС"
	case strings.Contains(use, "лпх") || strings.Contains(use, "подсобн"):
		return "ЛПХ"
	case strings.Contains(use, "дачн") || strings.Contains(use, "днп"):
		return "ДНП"
	case strings.Contains(use, "снт") || strings.Contains(use, "садовод"):
		return "СНТ"
	case use == "" && strings.Contains(category, "населенных пунктов"):
		return "ИЖС"
	}
	return ""
}

var districtMarkers = []string{"городской округ", "г.о.", "р-н", "район"}

// settlementPrefixes maps address prefixes onto the catalog's spelling.
// Longer prefixes come first so "пос " is not read as "п ".
var settlementPrefixes = []struct{ prefix, canonical string }{
	{"пос. ", "пос."},
	{"пос ", "пос."},
	{"пгт ", "пгт"},
	{"ст-ца ", "ст-ца"},
	{"п. ", "пос."},
	{"п ", "пос."},
	{"г. ", "г."},
	{"г ", "г."},
	{"с. ", "с."},
	{"с ", "с."},
	{"д. ", "д."},
	{"д ", "д."},
	{"х. ", "х."},
	{"х ", "х."},
}

// ParseAddress extracts district and settlement hints from a comma-separated
// address such as "Калининградская обл, Гурьевский р-н, п Поддубное".
func ParseAddress(address string) (district, settlement string) {
	for _, part := range strings.Split(address, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if district == "" && isDistrictPart(part) {
			district = normalizeDistrict(part)
			continue
		}
		if settlement == "" {
			settlement = normalizeSettlement(part)
		}
	}
	return district, settlement
}

func isDistrictPart(part string) bool {
	for _, m := range districtMarkers {
		if strings.Contains(part, m) {
			return true
		}
	}
	return false
}

func normalizeDistrict(part string) string {
	urban := strings.Contains(part, "г.о.") || strings.Contains(part, "городской округ")
	name := part
	for _, m := range districtMarkers {
		name = strings.ReplaceAll(name, m, "")
	}
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	if urban {
		return name + " городской округ"
	}
	return name + " район"
}

func normalizeSettlement(part string) string {
	for _, p := range settlementPrefixes {
		if strings.HasPrefix(part, p.prefix) {
			name := strings.TrimSpace(strings.TrimPrefix(part, p.prefix))
			if name == "" {
				return ""
			}
			return p.canonical + " " + name
		}
	}
	return ""
}
