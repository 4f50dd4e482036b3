package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "parcels.zip", archiveName("https://example.com/data/parcels.zip"))
	assert.Equal(t, "tl_2024_06_place.zip", archiveName("ftp://ftp2.census.gov/geo/tiger/TIGER2024/PLACE/tl_2024_06_place.zip"))
	assert.Equal(t, "dataset.zip", archiveName("https://example.com/"))
}
