package character

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sheetTemplate = `{
  "id": 12345678,
  "success": true,
  "data": {
    "id": 12345678,
    "name": "Thorin Oakenshield",
    "decorations": {"avatarUrl": "%s"},
    "race": {"fullName": "Mountain Dwarf"},
    "classes": [
      {"level": 5, "definition": {"name": "Fighter"}},
      {"level": 2, "definition": {"name": "Cleric"}}
    ],
    "stats": [
      {"id": 1, "value": 15}, {"id": 2, "value": 12}, {"id": 3, "value": 14},
      {"id": 4, "value": 8}, {"id": 5, "value": 13}, {"id": 6, "value": 9}
    ],
    "bonusStats": [
      {"id": 1, "value": null}, {"id": 2, "value": 1}, {"id": 3, "value": null},
      {"id": 4, "value": null}, {"id": 5, "value": null}, {"id": 6, "value": null}
    ],
    "overrideStats": [
      {"id": 1, "value": null}, {"id": 2, "value": null}, {"id": 3, "value": null},
      {"id": 4, "value": null}, {"id": 5, "value": null}, {"id": 6, "value": 11}
    ],
    "baseHitPoints": 44,
    "bonusHitPoints": null,
    "overrideHitPoints": null,
    "removedHitPoints": 10,
    "temporaryHitPoints": 0,
    "modifiers": {
      "race": [
        {"modifierTypeId": 1, "modifierSubTypeId": 4, "value": 2},
        {"modifierTypeId": 1, "modifierSubTypeId": 2, "value": 2}
      ],
      "class": [
        {"modifierTypeId": 9, "modifierSubTypeId": 179, "value": 19}
      ],
      "item": [
        {"modifierTypeId": 1, "modifierSubTypeId": 1, "value": 1}
      ]
    },
    "inventory": [
      {"equipped": true, "definition": {"armorTypeId": 2, "armorClass": 14}},
      {"equipped": true, "definition": {"armorTypeId": 4, "armorClass": 2}},
      {"equipped": false, "definition": {"armorTypeId": 3, "armorClass": 18}},
      {"equipped": true, "definition": {"armorTypeId": null, "armorClass": null}}
    ],
    "feats": [
      {"definition": {"id": 33, "name": "Medium Armor Master"}}
    ]
  }
}`

func sheetJSON(avatar string) []byte {
	return []byte(fmt.Sprintf(sheetTemplate, avatar))
}

func TestAbilityModifier(t *testing.T) {
	cases := map[int]int{1: -5, 8: -1, 9: -1, 10: 0, 11: 0, 12: 1, 15: 2, 20: 5, 30: 10}
	for score, want := range cases {
		assert.Equal(t, want, Ability{Base: score}.Modifier(), "score %d", score)
	}
}

func TestAbilityTotalPrecedence(t *testing.T) {
	assert.Equal(t, 17, Ability{Base: 15, Bonus: 2}.Total())
	assert.Equal(t, 19, Ability{Base: 15, Bonus: 2, Set: 19}.Total())
	assert.Equal(t, 12, Ability{Base: 15, Bonus: 2, Set: 19, Override: 12}.Total())
}

func TestParse(t *testing.T) {
	c, err := Parse(sheetJSON("https://example.invalid/a.png"))
	require.NoError(t, err)

	assert.Equal(t, 12345678, c.ID)
	assert.Equal(t, "Thorin Oakenshield", c.Name)
	assert.Equal(t, "Mountain Dwarf", c.Race)
	assert.Equal(t, "Fighter", c.Class)
	assert.Equal(t, 5, c.Level, "first class only")
	assert.Equal(t, "https://example.invalid/a.png", c.PortraitURL)

	assert.Equal(t, 17, c.Abilities[Strength].Total(), "15 + race 2")
	assert.Equal(t, 13, c.Abilities[Dexterity].Total(), "12 + bonus 1")
	assert.Equal(t, 16, c.Abilities[Constitution].Total(), "14 + race 2")
	assert.Equal(t, 8, c.Abilities[Intelligence].Total())
	assert.Equal(t, 19, c.Abilities[Wisdom].Total(), "set by class")
	assert.Equal(t, 11, c.Abilities[Charisma].Total(), "override")

	assert.Equal(t, ArmorMedium, c.ArmorType)
	assert.Equal(t, 14, c.BaseArmorClass)
	assert.Equal(t, 3, c.BonusArmorClass, "item +1 and shield +2")
	assert.True(t, c.MediumArmorExpert)
}

func TestDerivedValues(t *testing.T) {
	c, err := Parse(sheetJSON(""))
	require.NoError(t, err)

	// 14 medium + dex 1 (cap 3) + 3 bonus
	assert.Equal(t, 18, c.ArmorClass())
	// 44 + con 3 * level 5
	assert.Equal(t, 59, c.MaxHitPoints())
	assert.Equal(t, 49, c.CurrentHitPoints())

	s := c.Summary()
	assert.Equal(t, 18, s.ArmorClass)
	assert.Equal(t, 49, s.HitPoints)
	assert.Equal(t, [6]int{3, 1, 3, -1, 4, 0}, s.AbilityModifiers)
}

func TestArmorClassDexterityCaps(t *testing.T) {
	c := New()
	c.Abilities[Dexterity].Base = 20 // +5

	assert.Equal(t, 15, c.ArmorClass(), "unarmored")

	c.ArmorType, c.BaseArmorClass = ArmorLight, 11
	assert.Equal(t, 16, c.ArmorClass())

	c.ArmorType, c.BaseArmorClass = ArmorMedium, 14
	assert.Equal(t, 16, c.ArmorClass())
	c.MediumArmorExpert = true
	assert.Equal(t, 17, c.ArmorClass())

	c.ArmorType, c.BaseArmorClass = ArmorHeavy, 18
	assert.Equal(t, 18, c.ArmorClass())

	c.Abilities[Dexterity].Base = 6 // -2
	assert.Equal(t, 16, c.ArmorClass(), "penalties still apply under heavy armor")
}

func TestHitPoints(t *testing.T) {
	c := New()
	c.BaseHitPoints = 10
	c.Level = 3
	c.Abilities[Constitution].Base = 14

	assert.Equal(t, 16, c.MaxHitPoints())

	c.RemovedHitPoints = 100
	assert.Equal(t, 0, c.CurrentHitPoints(), "clamped at zero")

	c.RemovedHitPoints = 0
	c.OverrideHitPoints = 5000
	assert.Equal(t, 5000, c.MaxHitPoints())
	assert.Equal(t, MaxHitPointsCap, c.CurrentHitPoints())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"success": false, "message": "Character not found"}`))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestParseMinimal(t *testing.T) {
	c, err := Parse([]byte(`{"data": {"id": 1, "name": "Nobody"}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Level)
	assert.Equal(t, 10, c.Abilities[Dexterity].Total())
	assert.Equal(t, 10, c.ArmorClass())
}

func TestParseID(t *testing.T) {
	id, err := ParseID(" 12345 ")
	require.NoError(t, err)
	assert.Equal(t, 12345, id)

	for _, bad := range []string{"", "abc", "-4", "0"} {
		_, err := ParseID(bad)
		assert.Error(t, err, bad)
	}
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeService serves /character/{id} and /avatar.png
type fakeService struct {
	*httptest.Server
	characterHits atomic.Int32
	avatarHits    atomic.Int32
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{}
	avatar := pngBytes(t, color.RGBA{R: 255, A: 255})

	mux := http.NewServeMux()
	mux.HandleFunc("/character/", func(w http.ResponseWriter, r *http.Request) {
		f.characterHits.Add(1)
		if strings.TrimPrefix(r.URL.Path, "/character/") != "12345678" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(sheetJSON(f.URL + "/avatar.png"))
	})
	mux.HandleFunc("/avatar.png", func(w http.ResponseWriter, r *http.Request) {
		f.avatarHits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(avatar)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func TestClientFetch(t *testing.T) {
	f := newFakeService(t)
	client := NewClient(f.Client(), f.URL+"/character")

	data, err := client.Fetch(context.Background(), 12345678)
	require.NoError(t, err)
	c, err := Parse(data)
	require.NoError(t, err)

	img, err := client.FetchPortrait(context.Background(), c.PortraitURL)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = client.Fetch(context.Background(), 1)
	assert.ErrorContains(t, err, "404")
}

func TestServiceReloadCachesDocument(t *testing.T) {
	f := newFakeService(t)
	dataFile := filepath.Join(t.TempDir(), "cache", "data.json")
	svc := NewService(NewClient(f.Client(), f.URL+"/character/"), dataFile)

	var updates atomic.Int32
	svc.Subscribe(func(s Snapshot) {
		updates.Add(1)
		assert.NotNil(t, s.Character)
	})

	assert.Nil(t, svc.Snapshot().Character)
	require.NoError(t, svc.Reload(context.Background(), 12345678))

	snap := svc.Snapshot()
	require.NotNil(t, snap.Character)
	assert.Equal(t, "Thorin Oakenshield", snap.Character.Name)
	require.NotNil(t, snap.Portrait)
	assert.False(t, snap.UpdatedAt.IsZero())

	_, err := os.Stat(dataFile)
	require.NoError(t, err, "document cached")

	// Reloading the same character does not refetch an unchanged portrait
	require.NoError(t, svc.Reload(context.Background(), 12345678))
	assert.Equal(t, int32(1), f.avatarHits.Load())
	assert.Equal(t, int32(2), updates.Load())

	// A fresh service comes up from the cache alone
	offline := NewService(NewClient(f.Client(), f.URL), dataFile)
	require.NoError(t, offline.Load(context.Background()))
	assert.Equal(t, 12345678, offline.Snapshot().Character.ID)
}

func TestServiceReloadFailureKeepsCharacter(t *testing.T) {
	f := newFakeService(t)
	dataFile := filepath.Join(t.TempDir(), "data.json")
	svc := NewService(NewClient(f.Client(), f.URL+"/character/"), dataFile)

	require.NoError(t, svc.Reload(context.Background(), 12345678))
	assert.Error(t, svc.Reload(context.Background(), 99))
	assert.Equal(t, 12345678, svc.Snapshot().Character.ID)
}

func TestServiceLoadMissingFile(t *testing.T) {
	svc := NewService(NewClient(nil, ""), filepath.Join(t.TempDir(), "data.json"))
	assert.Error(t, svc.Load(context.Background()))
}

func TestServicePortraitFailureIsNotFatal(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(dataFile, sheetJSON("http://127.0.0.1:1/missing.png"), 0644))

	svc := NewService(NewClient(nil, ""), dataFile)
	require.NoError(t, svc.Load(context.Background()))

	snap := svc.Snapshot()
	assert.NotNil(t, snap.Character)
	assert.Nil(t, snap.Portrait)
}
