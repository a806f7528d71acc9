// Package character loads a D&D Beyond character sheet and derives the
// numbers shown on the overlay.
package character

// Ability indices in stats arrays
const (
	Strength = iota
	Dexterity
	Constitution
	Intelligence
	Wisdom
	Charisma

	abilityCount
)

// MaxHitPointsCap bounds current hit points
const MaxHitPointsCap = 2000

// Ability is one ability score with its sources
type Ability struct {
	Base     int `json:"base"`
	Bonus    int `json:"bonus"`
	Override int `json:"override"`
	Set      int `json:"set"`
}

// Total returns the effective score: override, else set, else base + bonus
func (a Ability) Total() int {
	switch {
	case a.Override > 0:
		return a.Override
	case a.Set > 0:
		return a.Set
	default:
		return a.Base + a.Bonus
	}
}

// Modifier returns floor((total - 10) / 2)
func (a Ability) Modifier() int {
	d := a.Total() - 10
	if d < 0 {
		return (d - 1) / 2
	}
	return d / 2
}

// ArmorType is the category of the equipped armor
type ArmorType int

const (
	ArmorNone ArmorType = iota
	ArmorLight
	ArmorMedium
	ArmorHeavy
	// ArmorShield is only used while parsing; shields add to bonus AC
	ArmorShield
)

func (t ArmorType) String() string {
	switch t {
	case ArmorLight:
		return "light"
	case ArmorMedium:
		return "medium"
	case ArmorHeavy:
		return "heavy"
	case ArmorShield:
		return "shield"
	default:
		return "none"
	}
}

// Character is the parsed subset of a character sheet
type Character struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Race        string `json:"race"`
	Class       string `json:"class"`
	Level       int    `json:"level"`
	PortraitURL string `json:"portrait_url,omitempty"`

	Abilities         [abilityCount]Ability `json:"abilities"`
	ArmorType         ArmorType             `json:"armor_type"`
	BaseArmorClass    int                   `json:"base_armor_class"`
	BonusArmorClass   int                   `json:"bonus_armor_class"`
	MediumArmorExpert bool                  `json:"medium_armor_expert"`

	BaseHitPoints      int `json:"base_hit_points"`
	BonusHitPoints     int `json:"bonus_hit_points"`
	OverrideHitPoints  int `json:"override_hit_points"`
	RemovedHitPoints   int `json:"removed_hit_points"`
	TemporaryHitPoints int `json:"temporary_hit_points"`
}

// New returns a level 1 character with all scores at 10
func New() *Character {
	c := &Character{
		ID:            -1,
		Level:         1,
		BaseHitPoints: 8,
	}
	for i := range c.Abilities {
		c.Abilities[i].Base = 10
	}
	return c
}

// maxDexterityBonus is the cap the armor places on the dexterity modifier
func (c *Character) maxDexterityBonus() int {
	switch c.ArmorType {
	case ArmorMedium:
		if c.MediumArmorExpert {
			return 3
		}
		return 2
	case ArmorHeavy:
		return 0
	default:
		return 10
	}
}

// ArmorClass returns the armor class from the equipped armor, the capped
// dexterity modifier and bonuses. Unarmored is 10 + dexterity.
func (c *Character) ArmorClass() int {
	dex := c.Abilities[Dexterity].Modifier()
	if c.ArmorType == ArmorNone {
		return 10 + dex + c.BonusArmorClass
	}
	dex = clamp(dex, -5, c.maxDexterityBonus())
	return c.BaseArmorClass + dex + c.BonusArmorClass
}

// MaxHitPoints returns the override, else base + bonus + temporary +
// constitution modifier per level
func (c *Character) MaxHitPoints() int {
	if c.OverrideHitPoints > 0 {
		return c.OverrideHitPoints
	}
	return c.BaseHitPoints +
		c.BonusHitPoints +
		c.TemporaryHitPoints +
		c.Abilities[Constitution].Modifier()*c.Level
}

// CurrentHitPoints returns max minus damage taken, within [0, 2000]
func (c *Character) CurrentHitPoints() int {
	return clamp(c.MaxHitPoints()-c.RemovedHitPoints, 0, MaxHitPointsCap)
}

// Summary is what the overlay and the API display
type Summary struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	Race             string            `json:"race"`
	Class            string            `json:"class"`
	Level            int               `json:"level"`
	ArmorClass       int               `json:"armor_class"`
	HitPoints        int               `json:"hit_points"`
	MaxHitPoints     int               `json:"max_hit_points"`
	PortraitURL      string            `json:"portrait_url,omitempty"`
	AbilityModifiers [abilityCount]int `json:"ability_modifiers"`
}

// Summary derives the displayed values
func (c *Character) Summary() Summary {
	s := Summary{
		ID:           c.ID,
		Name:         c.Name,
		Race:         c.Race,
		Class:        c.Class,
		Level:        c.Level,
		ArmorClass:   c.ArmorClass(),
		HitPoints:    c.CurrentHitPoints(),
		MaxHitPoints: c.MaxHitPoints(),
		PortraitURL:  c.PortraitURL,
	}
	for i, a := range c.Abilities {
		s.AbilityModifiers[i] = a.Modifier()
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
