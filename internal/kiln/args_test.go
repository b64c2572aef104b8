package kiln

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentAssembler_Define(t *testing.T) {
	a := NewArgumentAssembler()

	require.NoError(t, a.Define("WITH_GRASS", "TRUE"))
	require.NoError(t, a.Define("WITH_GRASS", "TRUE"))
	require.NoError(t, a.Add("-Wno-dev"))
	require.NoError(t, a.Add("-Wno-dev"))

	err := a.Define("WITH_GRASS", "FALSE")
	require.ErrorIs(t, err, ErrDuplicateDefine)

	err = a.Add("-DWITH_GRASS:BOOL=FALSE")
	require.ErrorIs(t, err, ErrDuplicateDefine)

	err = a.Add("-DWITH_GRASS")
	require.ErrorIs(t, err, ErrDuplicateDefine)

	assert.Equal(t, []string{"-DWITH_GRASS=TRUE", "-Wno-dev"}, a.Args())

	v, ok := a.Lookup("WITH_GRASS")
	assert.True(t, ok)
	assert.Equal(t, "TRUE", v)
}

func TestDefineKey(t *testing.T) {
	tests := []struct {
		arg, key, value string
		ok              bool
	}{
		{"-DFOO=bar", "FOO", "bar", true},
		{"-DFOO:PATH=/a=b", "FOO", "/a=b", true},
		{"-DFOO=", "FOO", "", true},
		{"-DFOO", "FOO", "", true},
		{"-DFOO:BOOL", "FOO", "", true},
		{"-D", "", "", false},
		{"-Wno-dev", "", "", false},
	}
	for _, tt := range tests {
		k, v, ok := defineKey(tt.arg)
		assert.Equal(t, tt.ok, ok, tt.arg)
		assert.Equal(t, tt.key, k, tt.arg)
		assert.Equal(t, tt.value, v, tt.arg)
	}
}

func TestAssembleArgs(t *testing.T) {
	work := t.TempDir()
	gdal := filepath.Join(t.TempDir(), "gdal")
	grass := filepath.Join(t.TempDir(), "grass")
	for _, d := range []string{"grass-6.4.0", "grass-6.4.2", "grass-6.4.1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(grass, d), 0o755))
	}

	spec := &PackageSpec{
		Name:    "qgis",
		Version: "1.8.0",
		Primary: PrimaryBuild{
			HeadDefines: []Define{{Key: "ENABLE_TESTS", Value: "FALSE"}},
		},
		Features: []OptionalFeature{
			{
				Flag: "with-grass",
				Defines: []Define{
					{Key: "GRASS_PREFIX", Glob: &GlobLookup{Dependency: "grass", Pattern: "grass-*"}},
					{Key: "GDAL_INCLUDE_DIR", Value: "@dep:gdal@/include"},
				},
				EnvAppend: []EnvAppend{{Var: "CXXFLAGS", Value: "-I@dep:gdal@/include"}},
			},
			{
				Flag:    "with-globe",
				Defines: []Define{{Key: "WITH_GLOBE", Value: "TRUE"}},
			},
		},
	}

	res := ResolveFeatures([]string{"with-grass"}, spec.Features, true)
	bc := newBuildContext(spec, work, "/opt/kiln/cellar/qgis/1.8.0", "/opt/kiln", res, []string{"CXXFLAGS=-O2", "PATH=/usr/bin"})
	bc.External["gdal"] = gdal
	bc.External["grass"] = grass

	bc.Staged["bison"] = filepath.Join(work, "staged", "bison")
	bc.StagedOrder = append(bc.StagedOrder, "bison")
	bc.recipes["bison"] = &StagedRecipe{Artifacts: []Artifact{{Key: "BISON_EXECUTABLE", Path: "bin/bison"}}}

	require.NoError(t, AssembleArgs(spec, bc))

	want := []string{
		"-DCMAKE_INSTALL_PREFIX=/opt/kiln/cellar/qgis/1.8.0",
		"-DCMAKE_BUILD_TYPE=None",
		"-DCMAKE_FIND_FRAMEWORK=LAST",
		"-Wno-dev",
		"-DBISON_EXECUTABLE=" + filepath.Join(work, "staged", "bison", "bin", "bison"),
		"-DENABLE_TESTS=FALSE",
		"-DGRASS_PREFIX=" + filepath.Join(grass, "grass-6.4.2"),
		"-DGDAL_INCLUDE_DIR=" + gdal + "/include",
	}
	if diff := cmp.Diff(want, bc.Args.Args()); diff != "" {
		t.Errorf("AssembleArgs() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "-O2 -I"+gdal+"/include", bc.Env.Get("CXXFLAGS"))
}

func TestAssembleArgs_Deterministic(t *testing.T) {
	spec := &PackageSpec{
		Name: "qgis",
		Features: []OptionalFeature{
			{Flag: "a", Defines: []Define{{Key: "A", Value: "1"}}},
			{Flag: "b", Defines: []Define{{Key: "B", Value: "@prefix@/share"}}},
		},
	}
	build := func() []string {
		res := ResolveFeatures([]string{"b", "a"}, spec.Features, false)
		bc := newBuildContext(spec, t.TempDir(), "/p", "/s", res, nil)
		require.NoError(t, AssembleArgs(spec, bc))
		return bc.Args.Args()
	}
	first := build()
	assert.Equal(t, first, build())
	// declaration order, not request order
	assert.Equal(t, []string{"-DA=1", "-DB=/p/share"}, first[len(first)-2:])
}

func TestAssembleArgs_Errors(t *testing.T) {
	t.Run("glob without match", func(t *testing.T) {
		spec := &PackageSpec{Name: "qgis", Features: []OptionalFeature{{
			Flag:    "with-grass",
			Defines: []Define{{Key: "GRASS_PREFIX", Glob: &GlobLookup{Dependency: "grass", Pattern: "grass-*"}}},
		}}}
		bc := newBuildContext(spec, t.TempDir(), "/p", "/s", ResolveFeatures([]string{"with-grass"}, spec.Features, false), nil)
		bc.External["grass"] = t.TempDir()

		err := AssembleArgs(spec, bc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no match")
	})

	t.Run("missing dependency", func(t *testing.T) {
		spec := &PackageSpec{Name: "qgis", Features: []OptionalFeature{{
			Flag:    "with-grass",
			Defines: []Define{{Key: "GRASS_PREFIX", Value: "@dep:grass@"}},
		}}}
		bc := newBuildContext(spec, t.TempDir(), "/p", "/s", ResolveFeatures([]string{"with-grass"}, spec.Features, false), nil)
		require.ErrorIs(t, AssembleArgs(spec, bc), ErrDependencyMissing)
	})

	t.Run("unknown placeholder", func(t *testing.T) {
		spec := &PackageSpec{Name: "qgis", Primary: PrimaryBuild{StandardArgs: []string{"-DX=@nope@"}}}
		bc := newBuildContext(spec, t.TempDir(), "/p", "/s", ResolveFeatures(nil, nil, false), nil)
		err := AssembleArgs(spec, bc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown placeholder")
	})

	t.Run("conflicting feature defines", func(t *testing.T) {
		spec := &PackageSpec{Name: "qgis", Features: []OptionalFeature{
			{Flag: "a", Defines: []Define{{Key: "PY", Value: "2"}}},
			{Flag: "b", Defines: []Define{{Key: "PY", Value: "3"}}},
		}}
		bc := newBuildContext(spec, t.TempDir(), "/p", "/s", ResolveFeatures([]string{"a", "b"}, spec.Features, false), nil)
		require.ErrorIs(t, AssembleArgs(spec, bc), ErrDuplicateDefine)
	})
}
