package character

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoData is returned when the document has no "data" object
var ErrNoData = errors.New("character document has no data")

// D&D Beyond modifier type and subtype ids
const (
	modifierBonus          = 1
	modifierSet            = 9
	subtypeArmorClass      = 1
	subtypeFirstScoreBonus = 2   // strength-score
	subtypeFirstScoreSet   = 175 // strength-score (set)
	featMediumArmorMaster  = 33
)

type document struct {
	Data *sheet `json:"data"`
}

type sheet struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Decorations struct {
		AvatarURL string `json:"avatarUrl"`
	} `json:"decorations"`
	Race struct {
		FullName string `json:"fullName"`
	} `json:"race"`
	Classes []struct {
		Level      int `json:"level"`
		Definition struct {
			Name string `json:"name"`
		} `json:"definition"`
	} `json:"classes"`

	Stats         []statValue `json:"stats"`
	BonusStats    []statValue `json:"bonusStats"`
	OverrideStats []statValue `json:"overrideStats"`

	BaseHitPoints      int  `json:"baseHitPoints"`
	BonusHitPoints     *int `json:"bonusHitPoints"`
	OverrideHitPoints  *int `json:"overrideHitPoints"`
	RemovedHitPoints   int  `json:"removedHitPoints"`
	TemporaryHitPoints int  `json:"temporaryHitPoints"`

	Modifiers map[string][]modifier `json:"modifiers"`

	Inventory []struct {
		Equipped   bool `json:"equipped"`
		Definition struct {
			ArmorTypeID *int `json:"armorTypeId"`
			ArmorClass  *int `json:"armorClass"`
		} `json:"definition"`
	} `json:"inventory"`

	Feats []struct {
		Definition struct {
			ID int `json:"id"`
		} `json:"definition"`
	} `json:"feats"`
}

// statValue values are null when unset
type statValue struct {
	ID    int  `json:"id"`
	Value *int `json:"value"`
}

type modifier struct {
	ModifierTypeID    int  `json:"modifierTypeId"`
	ModifierSubTypeID int  `json:"modifierSubTypeId"`
	Value             *int `json:"value"`
}

func intOf(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func statAt(stats []statValue, i, unset int) int {
	if i >= len(stats) || stats[i].Value == nil {
		return unset
	}
	return *stats[i].Value
}

// Parse decodes a character-service response or a saved data.json
func Parse(data []byte) (*Character, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode character: %w", err)
	}
	if doc.Data == nil {
		return nil, ErrNoData
	}
	s := doc.Data

	c := New()
	c.ID = s.ID
	c.Name = s.Name
	c.Race = s.Race.FullName
	c.PortraitURL = s.Decorations.AvatarURL
	if len(s.Classes) > 0 {
		c.Level = s.Classes[0].Level
		c.Class = s.Classes[0].Definition.Name
	}

	for i := 0; i < abilityCount; i++ {
		c.Abilities[i] = Ability{
			Base:     statAt(s.Stats, i, 10),
			Bonus:    statAt(s.BonusStats, i, 0),
			Override: statAt(s.OverrideStats, i, 0),
		}
	}

	c.BaseHitPoints = s.BaseHitPoints
	c.BonusHitPoints = intOf(s.BonusHitPoints)
	c.OverrideHitPoints = intOf(s.OverrideHitPoints)
	c.RemovedHitPoints = s.RemovedHitPoints
	c.TemporaryHitPoints = s.TemporaryHitPoints

	for _, source := range []string{"race", "class", "item"} {
		for _, m := range s.Modifiers[source] {
			c.applyModifier(m, source == "item")
		}
	}

	for _, item := range s.Inventory {
		if !item.Equipped {
			continue
		}
		armorType := ArmorType(intOf(item.Definition.ArmorTypeID))
		switch armorType {
		case ArmorLight, ArmorMedium, ArmorHeavy:
			c.ArmorType = armorType
			c.BaseArmorClass = intOf(item.Definition.ArmorClass)
		case ArmorShield:
			c.BonusArmorClass += intOf(item.Definition.ArmorClass)
		}
	}

	for _, feat := range s.Feats {
		if feat.Definition.ID == featMediumArmorMaster {
			c.MediumArmorExpert = true
		}
	}

	return c, nil
}

func (c *Character) applyModifier(m modifier, fromItem bool) {
	value := intOf(m.Value)
	switch m.ModifierTypeID {
	case modifierBonus:
		if i := m.ModifierSubTypeID - subtypeFirstScoreBonus; i >= 0 && i < abilityCount {
			c.Abilities[i].Bonus += value
		} else if fromItem && m.ModifierSubTypeID == subtypeArmorClass {
			c.BonusArmorClass += value
		}
	case modifierSet:
		if i := m.ModifierSubTypeID - subtypeFirstScoreSet; i >= 0 && i < abilityCount {
			c.Abilities[i].Set = value
		}
	}
}
