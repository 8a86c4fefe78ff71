package cards

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/finova-network/reward-engine/internal/domain"
)

// requiredPaths is the set of JSONPath expressions every catalog document
// must satisfy before it is trusted, independent of any one card's own
// shape. Checked with jsonpath rather than gjson because the catalog
// admin surface (§8) reports which expression failed, not just that
// "the JSON was wrong".
var requiredPaths = []string{"$.cards"}

// LoadCatalog parses a card catalog document (the admin-editable JSON
// config naming every playable card type, its effect kind, and its
// synergy group) into the Definition lookup Engine.New expects.
//
// gjson does the per-card field extraction, since the catalog is a flat
// array of small records and gjson's Get/ForEach avoids round-tripping
// through encoding/json structs for a document shape that changes
// shape more often than the Go types around it. jsonpath separately
// validates document-level structure so a malformed catalog fails with
// a path-addressed error before any card is parsed.
func LoadCatalog(data []byte) (map[string]Definition, error) {
	if err := ValidateCatalogShape(data); err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(data)
	cardsJSON := root.Get("cards")
	if !cardsJSON.IsArray() {
		return nil, fmt.Errorf("card catalog: \"cards\" is not an array")
	}

	out := make(map[string]Definition)
	var parseErr error
	cardsJSON.ForEach(func(_, card gjson.Result) bool {
		cardType := card.Get("card_type").String()
		if cardType == "" {
			parseErr = fmt.Errorf("card catalog: entry missing card_type")
			return false
		}
		def := Definition{
			CardType:     cardType,
			EffectKind:   domain.CardEffectKind(card.Get("effect_kind").String()),
			Multiplier:   card.Get("multiplier").Float(),
			SynergyGroup: card.Get("synergy_group").String(),
			Stackable:    card.Get("stackable").Bool(),
			Uses:         int(card.Get("uses").Int()),
		}
		if secs := card.Get("duration_seconds"); secs.Exists() {
			def.Duration = time.Duration(secs.Int()) * time.Second
		}
		out[cardType] = def
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// ValidateCatalogShape checks that data satisfies every path in
// requiredPaths, returning the first one that doesn't resolve.
func ValidateCatalogShape(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("card catalog: %w", err)
	}
	for _, path := range requiredPaths {
		if _, err := jsonpath.Get(path, doc); err != nil {
			return fmt.Errorf("card catalog: required path %q: %w", path, err)
		}
	}
	return nil
}
