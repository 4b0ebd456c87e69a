package endpoints

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Endpoints []Registration `yaml:"endpoints"`
}

// LoadSeed parses a YAML document of the form
//
//	endpoints:
//	  - service: orders
//	    path: /orders/{id}
//	    method: GET
//	    permissions: ["order:read"]
func LoadSeed(r io.Reader) ([]Registration, error) {
	var doc seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode endpoint seed: %w", err)
	}
	for i, reg := range doc.Endpoints {
		if _, err := reg.normalize(); err != nil {
			return nil, fmt.Errorf("endpoint seed entry %d: %w", i, err)
		}
	}
	return doc.Endpoints, nil
}

// LoadSeedFile opens path and parses it with LoadSeed.
func LoadSeedFile(path string) ([]Registration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSeed(f)
}
