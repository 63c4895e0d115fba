package asset_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/asset"
)

const sponza = `# sponza materials
material brick albedo textures/brick albedo.png
material brick	normal textures/brick_normal.png
material brick roughnessMetallic textures/brick_rm.png

material lamp emissive textures/lamp_glow.png
mesh 2 lamp
mesh 0 brick
mesh 1 brick
`

func TestParseMaterials(t *testing.T) {
	library, err := asset.ParseMaterials(strings.NewReader(sponza))
	require.NoError(t, err)

	require.Len(t, library.Materials, 2)
	brick, ok := library.Material("brick")
	require.True(t, ok)
	require.Equal(t, map[asset.TextureSlot]string{
		asset.SlotAlbedo:            "textures/brick albedo.png",
		asset.SlotNormal:            "textures/brick_normal.png",
		asset.SlotRoughnessMetallic: "textures/brick_rm.png",
	}, brick.Textures)

	require.Equal(t, map[uint32]string{0: "brick", 1: "brick", 2: "lamp"}, library.MeshMaterials)
}

func TestWriteMaterials(t *testing.T) {
	library, err := asset.ParseMaterials(strings.NewReader(sponza))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, asset.WriteMaterials(&buf, library))
	require.Equal(t, `material brick albedo textures/brick albedo.png
material brick normal textures/brick_normal.png
material brick roughnessMetallic textures/brick_rm.png
material lamp emissive textures/lamp_glow.png
mesh 0 brick
mesh 1 brick
mesh 2 lamp
`, buf.String())

	reparsed, err := asset.ParseMaterials(&buf)
	require.NoError(t, err)
	require.Equal(t, library, reparsed)
}

func TestParseMaterialsErrors(t *testing.T) {
	testCases := map[string]string{
		"Keyword":            "texture brick albedo a.png\n",
		"Slot":               "material brick specular a.png\n",
		"MissingPath":        "material brick albedo\n",
		"MeshIndex":          "material brick albedo a.png\nmesh first brick\n",
		"MeshFields":         "material brick albedo a.png\nmesh 0\n",
		"Duplicate":          "material brick albedo a.png\nmesh 0 brick\nmesh 0 brick\n",
		"UndeclaredMaterial": "mesh 0 marble\n",
	}

	for name, text := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := asset.ParseMaterials(strings.NewReader(text))
			require.ErrorIs(t, err, asset.ErrFileFormat)
		})
	}
}

func TestWriteMaterialsRejectsBadNames(t *testing.T) {
	var buf bytes.Buffer
	err := asset.WriteMaterials(&buf, &asset.MaterialLibrary{
		Materials: []asset.Material{{Name: "two words", Textures: map[asset.TextureSlot]string{asset.SlotAlbedo: "a.png"}}},
	})
	require.ErrorIs(t, err, asset.ErrFileFormat)
}
