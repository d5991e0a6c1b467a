package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ─── Progression Queries ────────────────────────────────────────────────────

func init() {
	for _, c := range []*cobra.Command{profileCmd, achievementsCmd, rewardsCmd, historyCmd} {
		c.Flags().Bool("json", false, "print as JSON")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(equipCmd)
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Int("limit", 500, "pending grants to examine")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var profileCmd = &cobra.Command{
	Use:   "profile USER_ID",
	Short: "Show essence, level, title and equipped rewards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		l, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer l.Close()

		p, err := l.engine.GetProfile(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(out, p)
		}
		fmt.Fprintf(out, "%s — level %d %s\n", p.UserID, p.Level, p.Title)
		fmt.Fprintf(out, "essence:      %d (%d to level %d, %.0f%%)\n",
			p.Essence, p.Progress.EssenceToNext, p.Level+1, p.Progress.Percent)
		fmt.Fprintf(out, "achievements: %d unlocked\n", p.Achievements)
		for _, r := range p.ActiveRewards {
			fmt.Fprintf(out, "equipped:     %-10s %s (%s)\n", r.Type, r.Name, r.Payload)
		}
		return nil
	},
}

var achievementsCmd = &cobra.Command{
	Use:   "achievements USER_ID",
	Short: "List achievements with progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		l, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer l.Close()

		views, err := l.engine.ListAchievements(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), views)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tPROGRESS\tTIERS\tUNLOCKED")
		for _, v := range views {
			mark := ""
			if v.Unlocked {
				mark = "✓"
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d/%d\t%s\n",
				v.AchievementID, v.Type, v.Progress, v.Target, v.TiersUnlocked, v.Tiers, mark)
		}
		return w.Flush()
	},
}

var rewardsCmd = &cobra.Command{
	Use:   "rewards USER_ID",
	Short: "List catalog rewards with ownership",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		l, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer l.Close()

		rewards, err := l.engine.ListRewards(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), rewards)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tPAYLOAD\tSTATE\tFROM")
		for _, r := range rewards {
			state := "locked"
			switch {
			case r.Equipped:
				state = "equipped"
			case r.Owned:
				state = "owned"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Payload, state, r.AchievementID)
		}
		return w.Flush()
	},
}

var equipCmd = &cobra.Command{
	Use:   "equip USER_ID REWARD_ID",
	Short: "Equip an owned reward",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		l, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer l.Close()

		def, err := l.engine.EquipReward(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "equipped %s (%s)\n", def.Name, def.Type)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history USER_ID",
	Short: "Show recent essence transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		l, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer l.Close()

		entries, err := l.engine.ListTransactions(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tAMOUNT\tBALANCE\tSOURCE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Amount, e.Balance, e.Source)
		}
		return w.Flush()
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry reward grants deferred for unknown rewards",
	Long: `Achievements that referenced a reward missing from the catalog leave a
pending grant. After adding the reward to the catalog, reconcile records
the unlocks.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		l, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer l.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		rep, err := l.engine.Reconcile(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d: granted %d, already owned %d, still pending %d\n",
			rep.Checked, rep.Granted, rep.Owned, rep.Retained)
		return nil
	},
}
