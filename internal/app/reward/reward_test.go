package reward

import (
	"errors"
	"testing"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	c, err := NewCatalog(DefaultCatalog())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	m := NewManager(c)
	m.SetClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	return m
}

func TestGrant_New(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Grant(domain.RewardGrantRequest{UserID: "u1", AchievementID: "first_task", RewardID: "emoji_fire"}, nil)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !res.Granted {
		t.Fatal("expected grant")
	}
	if res.Unlock.RewardID != "emoji_fire" || res.Unlock.AchievementID != "first_task" {
		t.Errorf("unlock = %+v", res.Unlock)
	}
	if res.Reward.Payload != "🔥" {
		t.Errorf("payload = %q", res.Reward.Payload)
	}
}

func TestGrant_AlreadyOwned(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Grant(domain.RewardGrantRequest{UserID: "u1", RewardID: "emoji_fire"}, map[string]bool{"emoji_fire": true})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if res.Granted {
		t.Error("owned reward must not be granted again")
	}
}

func TestGrant_NoReward(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Grant(domain.RewardGrantRequest{UserID: "u1", AchievementID: "habit_10"}, nil)
	if err != nil || res.Granted {
		t.Errorf("res=%+v err=%v, want no-op", res, err)
	}
}

func TestGrant_UnknownReward(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Grant(domain.RewardGrantRequest{UserID: "u1", AchievementID: "x", RewardID: "border_mythic"}, nil)
	if !errors.Is(err, domain.ErrUnknownReward) {
		t.Fatalf("err = %v, want ErrUnknownReward", err)
	}
	var ure *domain.UnknownRewardError
	if !errors.As(err, &ure) || ure.AchievementID != "x" {
		t.Errorf("typed error = %+v", ure)
	}
}

func TestEquipPlan(t *testing.T) {
	m := newTestManager(t)
	owned := map[string]bool{"border_bronze": true, "border_gold": true}

	def, unequip, err := m.EquipPlan("border_gold", owned)
	if err != nil {
		t.Fatalf("EquipPlan: %v", err)
	}
	if def.Type != domain.RewardBorder {
		t.Errorf("type = %s", def.Type)
	}
	want := []string{"border_bronze", "border_silver"}
	if len(unequip) != len(want) {
		t.Fatalf("unequip = %v, want %v", unequip, want)
	}
	for i := range want {
		if unequip[i] != want[i] {
			t.Errorf("unequip[%d] = %s, want %s", i, unequip[i], want[i])
		}
	}

	if _, _, err := m.EquipPlan("border_silver", owned); !errors.Is(err, domain.ErrRewardNotOwned) {
		t.Errorf("err = %v, want ErrRewardNotOwned", err)
	}
	if _, _, err := m.EquipPlan("nope", owned); !errors.Is(err, domain.ErrUnknownReward) {
		t.Errorf("err = %v, want ErrUnknownReward", err)
	}
}

func TestNewCatalog_Rejects(t *testing.T) {
	if _, err := NewCatalog([]domain.RewardDefinition{{ID: "a", Type: "HAT"}}); err == nil {
		t.Error("unknown type should fail")
	}
	if _, err := NewCatalog([]domain.RewardDefinition{
		{ID: "a", Type: domain.RewardEmoji}, {ID: "a", Type: domain.RewardEmoji},
	}); err == nil {
		t.Error("duplicate id should fail")
	}
}

func TestCatalog_AllKeepsOrder(t *testing.T) {
	c, _ := NewCatalog(DefaultCatalog())
	all := c.All()
	if len(all) != len(DefaultCatalog()) || all[0].ID != "title_apprentice" {
		t.Errorf("All() order broken: %v", all[0].ID)
	}
}
