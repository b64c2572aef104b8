package kiln

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment(t *testing.T) {
	env := NewEnvironment([]string{"PATH=/usr/bin", "CXXFLAGS=-O2", "HOME=/root", "broken"})

	env.Append("CXXFLAGS", "-I/opt/gdal/include")
	env.Append("CXXFLAGS", "-I/opt/gdal/include")
	env.Append("CXXFLAGS", "")
	env.Append("LDFLAGS", "-L/opt/gdal/lib")
	env.Set("MAKEFLAGS", "-j4")

	assert.Equal(t, "-O2 -I/opt/gdal/include", env.Get("CXXFLAGS"))
	assert.Equal(t, []string{
		"PATH=/usr/bin",
		"CXXFLAGS=-O2 -I/opt/gdal/include",
		"HOME=/root",
		"LDFLAGS=-L/opt/gdal/lib",
		"MAKEFLAGS=-j4",
	}, env.Environ())
}

func TestPlaceholders(t *testing.T) {
	ph := placeholders{
		vars: map[string]string{"prefix": "/opt/kiln/cellar/qgis/1.8.0", "name": "qgis"},
		dep: func(name string) (string, bool) {
			if name == "py-qt4" {
				return "/opt/kiln/opt/py-qt4", true
			}
			return "", false
		},
	}

	got, err := ph.expand("@prefix@/lib/@name@:@dep:py-qt4@/lib")
	require.NoError(t, err)
	assert.Equal(t, "/opt/kiln/cellar/qgis/1.8.0/lib/qgis:/opt/kiln/opt/py-qt4/lib", got)

	got, err = ph.expand("user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got)

	_, err = ph.expand("@dep:sip@")
	require.ErrorIs(t, err, ErrDependencyMissing)

	_, err = ph.expand("@runtime_version@")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown placeholder")

	all, err := ph.expandAll([]string{"cmake", "-DX=@prefix@"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cmake", "-DX=/opt/kiln/cellar/qgis/1.8.0"}, all)
}
