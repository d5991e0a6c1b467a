package achievement

import "github.com/lifehub/essence/internal/domain"

// DefaultCatalog is the stock achievement set seeded into a fresh config.
func DefaultCatalog() []domain.AchievementDefinition {
	task := []domain.EventMatcher{"todo:task_completed"}
	habit := []domain.EventMatcher{"habits:habit_completed"}
	return []domain.AchievementDefinition{
		{
			ID: "first_task", Name: "First Steps", Description: "Complete your first task", Icon: "🎯",
			Type:     domain.AchievementMilestone,
			Criteria: domain.Criteria{Events: task, Condition: domain.ConditionFirstEvent},
			RewardID: "emoji_fire", EssenceReward: 50,
		},
		{
			ID: "task_10", Name: "Getting Things Done", Description: "Complete 10 tasks", Icon: "📋",
			Type:     domain.AchievementCumulative,
			Criteria: domain.Criteria{Events: task, Threshold: 10},
			RewardID: "border_bronze", EssenceReward: 100,
		},
		{
			ID: "task_50", Name: "Task Master", Description: "Complete 50 tasks", Icon: "🏅",
			Type:     domain.AchievementCumulative,
			Criteria: domain.Criteria{Events: task, Threshold: 50},
			RewardID: "title_apprentice", EssenceReward: 250,
		},
		{
			ID: "task_100", Name: "Centurion", Description: "Complete 100 tasks", Icon: "💯",
			Type:     domain.AchievementCumulative,
			Criteria: domain.Criteria{Events: task, Threshold: 100},
			RewardID: "title_journeyman", EssenceReward: 500,
		},
		{
			ID: "first_habit", Name: "Habit Former", Description: "Complete your first habit", Icon: "🌱",
			Type:     domain.AchievementMilestone,
			Criteria: domain.Criteria{Events: habit, Condition: domain.ConditionFirstEvent},
			RewardID: "emoji_star", EssenceReward: 50,
		},
		{
			ID: "habit_10", Name: "Consistent", Description: "Complete 10 habits", Icon: "🔁",
			Type:          domain.AchievementCumulative,
			Criteria:      domain.Criteria{Events: habit, Threshold: 10},
			EssenceReward: 100,
		},
		{
			ID: "habit_50", Name: "Creature of Habit", Description: "Complete 50 habits", Icon: "🧭",
			Type:     domain.AchievementCumulative,
			Criteria: domain.Criteria{Events: habit, Threshold: 50},
			RewardID: "border_silver", EssenceReward: 250,
		},
		{
			ID: "habit_streak", Name: "On Fire", Description: "Complete a habit on consecutive days", Icon: "🔥",
			Type:     domain.AchievementStreak,
			Criteria: domain.Criteria{Events: habit},
			Tiers: []domain.Tier{
				{Threshold: 7, EssenceReward: 50},
				{Threshold: 30, RewardID: "border_gold", EssenceReward: 200},
				{Threshold: 100, RewardID: "title_master", EssenceReward: 500},
			},
		},
		{
			ID: "first_ledger", Name: "Bookkeeper", Description: "Log your first transaction", Icon: "📒",
			Type:          domain.AchievementMilestone,
			Criteria:      domain.Criteria{Events: []domain.EventMatcher{"accounting:transaction_logged"}, Condition: domain.ConditionFirstEvent},
			EssenceReward: 25,
		},
		{
			ID: "balanced_soul", Name: "Balanced Soul", Description: "Earn essence from tasks, habits and finances", Icon: "☯️",
			Type:          domain.AchievementDomainMastery,
			Criteria:      domain.Criteria{Domains: []domain.SourceDomain{domain.DomainTodo, domain.DomainHabits, domain.DomainAccounting}},
			RewardID:      "color_azure",
			EssenceReward: 150,
		},
		{
			ID: "level_5", Name: "Rising Star", Description: "Reach level 5", Icon: "⭐",
			Type:     domain.AchievementMilestone,
			Criteria: domain.Criteria{Condition: domain.ConditionLevelReached, Threshold: 5},
		},
		{
			ID: "level_10", Name: "Sage Path", Description: "Reach level 10", Icon: "📜",
			Type:     domain.AchievementMilestone,
			Criteria: domain.Criteria{Condition: domain.ConditionLevelReached, Threshold: 10},
			RewardID: "font_runic",
		},
		{
			ID: "essence_1000", Name: "Essence Collector", Description: "Gather 1000 essence", Icon: "✨",
			Type:     domain.AchievementMilestone,
			Criteria: domain.Criteria{Condition: domain.ConditionEssenceReached, Threshold: 1000},
		},
	}
}
