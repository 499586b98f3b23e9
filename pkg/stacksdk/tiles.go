package stacksdk

import (
	"fmt"
	"net/url"
)

// tileTemplate keeps the {z}/{x}/{y} placeholders unescaped for map clients.
const tileTemplate = "%s://%s/%s/%s/{z}/{x}/{y}.%s?access_token=%s"

func tilesURL(baseURL, token, service, id, format string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid base url %q", ErrParameter, baseURL)
	}
	return fmt.Sprintf(tileTemplate, u.Scheme, u.Host, service, url.PathEscape(id), format, url.QueryEscape(token)), nil
}

// RasterTilesURL returns the XYZ template URL of the raster tiles of a
// dataset, e.g. format "png".
func RasterTilesURL(baseURL, token, dataset, format string) (string, error) {
	return tilesURL(baseURL, token, "tileserver/tiles", dataset, format)
}

// VectorTilesURL returns the XYZ template URL of the vector tiles of a
// feature collection, e.g. format "mvt".
func VectorTilesURL(baseURL, token, collection, format string) (string, error) {
	return tilesURL(baseURL, token, "map-service/features/collection-mvt", collection, format)
}
