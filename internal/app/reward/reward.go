// Package reward holds the cosmetic reward catalog and decides grants.
// Ownership is append-only: a reward is granted at most once per user.
package reward

import (
	"fmt"
	"sort"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

// Catalog is the static reward set, read-only at runtime.
type Catalog struct {
	byID  map[string]domain.RewardDefinition
	order []string
}

// NewCatalog validates defs and builds a catalog.
func NewCatalog(defs []domain.RewardDefinition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]domain.RewardDefinition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("reward: empty id")
		}
		if !d.Type.Valid() {
			return nil, fmt.Errorf("reward %q: unknown type %q", d.ID, d.Type)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("reward %q defined twice", d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

// Get looks up a reward by ID.
func (c *Catalog) Get(id string) (domain.RewardDefinition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// All returns every reward in catalog order.
func (c *Catalog) All() []domain.RewardDefinition {
	out := make([]domain.RewardDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// OfType returns the IDs of all rewards sharing t, sorted.
func (c *Catalog) OfType(t domain.RewardType) []string {
	var out []string
	for id, d := range c.byID {
		if d.Type == t {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ─── Manager ────────────────────────────────────────────────────────────────

// GrantResult is the outcome of a grant decision.
type GrantResult struct {
	Granted bool                    // false when already owned or no reward attached
	Unlock  domain.UserRewardUnlock // set when Granted
	Reward  domain.RewardDefinition // display payload
}

// Manager decides grants and equips against the catalog.
type Manager struct {
	catalog *Catalog
	now     func() time.Time
}

// NewManager creates a reward manager.
func NewManager(c *Catalog) *Manager {
	return &Manager{catalog: c, now: time.Now}
}

// SetClock overrides the unlock timestamp source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Catalog returns the underlying catalog.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Grant decides whether req yields a new unlock given the owned set.
// An empty RewardID is a no-op; an unknown one is an *UnknownRewardError.
func (m *Manager) Grant(req domain.RewardGrantRequest, owned map[string]bool) (GrantResult, error) {
	if req.RewardID == "" {
		return GrantResult{}, nil
	}
	def, ok := m.catalog.Get(req.RewardID)
	if !ok {
		return GrantResult{}, &domain.UnknownRewardError{RewardID: req.RewardID, AchievementID: req.AchievementID}
	}
	if owned[req.RewardID] {
		return GrantResult{Reward: def}, nil
	}
	return GrantResult{
		Granted: true,
		Reward:  def,
		Unlock: domain.UserRewardUnlock{
			UserID:        req.UserID,
			RewardID:      req.RewardID,
			AchievementID: req.AchievementID,
			UnlockedAt:    m.now().UTC(),
		},
	}, nil
}

// EquipPlan resolves which rewards to unequip when equipping rewardID:
// every other reward of the same type.
func (m *Manager) EquipPlan(rewardID string, owned map[string]bool) (domain.RewardDefinition, []string, error) {
	def, ok := m.catalog.Get(rewardID)
	if !ok {
		return domain.RewardDefinition{}, nil, fmt.Errorf("equip %q: %w", rewardID, domain.ErrUnknownReward)
	}
	if !owned[rewardID] {
		return domain.RewardDefinition{}, nil, fmt.Errorf("equip %q: %w", rewardID, domain.ErrRewardNotOwned)
	}
	var unequip []string
	for _, id := range m.catalog.OfType(def.Type) {
		if id != rewardID {
			unequip = append(unequip, id)
		}
	}
	return def, unequip, nil
}

// DefaultCatalog is the stock cosmetic set.
func DefaultCatalog() []domain.RewardDefinition {
	return []domain.RewardDefinition{
		{ID: "title_apprentice", Name: "Apprentice Title", Description: "Display 'the Apprentice' after your name", Type: domain.RewardTitle, Payload: "the Apprentice"},
		{ID: "title_journeyman", Name: "Journeyman Title", Description: "Display 'the Journeyman' after your name", Type: domain.RewardTitle, Payload: "the Journeyman"},
		{ID: "title_master", Name: "Master Title", Description: "Display 'the Master' after your name", Type: domain.RewardTitle, Payload: "the Master"},
		{ID: "border_bronze", Name: "Bronze Border", Description: "A bronze profile border", Type: domain.RewardBorder, Payload: "#CD7F32"},
		{ID: "border_silver", Name: "Silver Border", Description: "A silver profile border", Type: domain.RewardBorder, Payload: "#C0C0C0"},
		{ID: "border_gold", Name: "Gold Border", Description: "A gold profile border", Type: domain.RewardBorder, Payload: "#FFD700"},
		{ID: "emoji_fire", Name: "Fire Emoji", Description: "Show 🔥 next to your name", Type: domain.RewardEmoji, Payload: "🔥"},
		{ID: "emoji_star", Name: "Star Emoji", Description: "Show ⭐ next to your name", Type: domain.RewardEmoji, Payload: "⭐"},
		{ID: "color_azure", Name: "Azure Name", Description: "Render your name in azure", Type: domain.RewardNameColor, Payload: "#3FA9F5"},
		{ID: "font_runic", Name: "Runic Font", Description: "Render your name in a runic font", Type: domain.RewardNameFont, Payload: "runic"},
	}
}
