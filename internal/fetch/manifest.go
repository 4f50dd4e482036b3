package fetch

import (
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Manifest lists the remote dataset archives a project depends on.
type Manifest struct {
	Datasets []Dataset `yaml:"datasets"`
}

// Dataset describes one downloadable archive and how to load it.
type Dataset struct {
	// Name is the collection the dataset loads into.
	Name string `yaml:"name"`
	// URL is the archive location; ftp:// and http(s):// are supported.
	URL string `yaml:"url"`
	// IDField optionally names the DBF attribute to use as the feature ID.
	IDField string `yaml:"id_field"`
}

// LoadManifest reads and validates a YAML dataset manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "fetch: parse manifest %s", path)
	}

	if len(m.Datasets) == 0 {
		return nil, eris.Errorf("fetch: manifest %s lists no datasets", path)
	}
	for i, d := range m.Datasets {
		if d.Name == "" {
			return nil, eris.Errorf("fetch: manifest dataset %d has no name", i)
		}
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "ftp" && u.Scheme != "http" && u.Scheme != "https") {
			return nil, eris.Errorf("fetch: dataset %q has invalid url %q", d.Name, d.URL)
		}
	}
	return &m, nil
}
