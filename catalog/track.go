package catalog

import (
	"strings"

	"github.com/samber/lo"
)

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Track struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Artists  []Artist `json:"artists"`
	CoverURI string   `json:"cover_uri"`
}

func JoinArtists(artists []Artist) string {
	names := lo.FilterMap(artists, func(a Artist, _ int) (string, bool) { return a.Name, a.Name != "" })
	return strings.Join(names, ", ")
}
