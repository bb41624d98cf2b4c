package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Ramsey-B/sprout/pkg/flags"
	"github.com/Ramsey-B/sprout/pkg/models"
)

func newFlagsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Work the review queue",
	}
	cmd.AddCommand(
		newFlagsListCommand(ctx),
		newFlagsReviewCommand(ctx, flags.ActionApprove),
		newFlagsReviewCommand(ctx, flags.ActionReject),
		newFlagsDismissCommand(ctx),
		newFlagsMergeCommand(ctx),
		newFlagsTagCommand(ctx),
	)
	return cmd
}

func newFlagsListCommand(ctx *commandContext) *cobra.Command {
	var dispensaryID string
	var since time.Duration
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending flags, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			filter := flags.ListFilter{DispensaryID: dispensaryID, Limit: limit}
			if since > 0 {
				start := time.Now().UTC().Add(-since)
				filter.Since = &start
			}
			items, err := a.flags.ListPending(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, items)
			}
			renderReviewItems(out, items)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dispensaryID, "dispensary", "d", "", "Only flags from this dispensary")
	cmd.Flags().DurationVar(&since, "since", 0, "Only flags created within this window (e.g. 24h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum flags to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func renderReviewItems(w io.Writer, items []flags.ReviewItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No pending flags")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		candidate := "-"
		if item.Candidate != nil {
			candidate = item.Candidate.Name
			if item.Candidate.Brand != "" {
				candidate += " (" + item.Candidate.Brand + ")"
			}
		}
		rows = append(rows, []string{
			item.Flag.ID,
			item.Flag.DispensaryID,
			item.Flag.Working.Name,
			item.Flag.Working.Brand,
			candidate,
			item.ConfidencePercent,
			item.Flag.MergeReason,
			joinTags(item.ProposedTags),
		})
	}
	writeTable(w, []string{"ID", "Dispensary", "Name", "Brand", "Candidate", "Confidence", "Reason", "Suggested tags"}, rows, 5)
}

func joinTags(tags []models.IssueTag) string {
	if len(tags) == 0 {
		return "-"
	}
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func parseTags(raw []string) []models.IssueTag {
	tags := make([]models.IssueTag, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			tags = append(tags, models.IssueTag(r))
		}
	}
	return tags
}

// editFlags holds the reviewer override flags; only the ones set become edits
type editFlags struct {
	name, brand, category, weight, url string
	thc, cbd, price                    float64
}

func (e *editFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&e.name, "name", "", "Corrected product name")
	fs.StringVar(&e.brand, "brand", "", "Corrected brand")
	fs.StringVar(&e.category, "category", "", "Corrected category")
	fs.StringVar(&e.weight, "weight", "", "Corrected weight text")
	fs.StringVar(&e.url, "url", "", "Corrected product URL")
	fs.Float64Var(&e.thc, "thc", 0, "Corrected THC percentage")
	fs.Float64Var(&e.cbd, "cbd", 0, "Corrected CBD percentage")
	fs.Float64Var(&e.price, "price", 0, "Corrected price")
}

func (e *editFlags) edits(fs *pflag.FlagSet) *flags.Edits {
	var out flags.Edits
	set := false
	str := func(name string, v string) *string {
		if !fs.Changed(name) {
			return nil
		}
		set = true
		return &v
	}
	num := func(name string, v float64) *float64 {
		if !fs.Changed(name) {
			return nil
		}
		set = true
		return &v
	}
	out.Name = str("name", e.name)
	out.Brand = str("brand", e.brand)
	out.Category = str("category", e.category)
	out.Weight = str("weight", e.weight)
	out.URL = str("url", e.url)
	out.THC = num("thc", e.thc)
	out.CBD = num("cbd", e.cbd)
	out.Price = num("price", e.price)
	if !set {
		return nil
	}
	return &out
}

func newFlagsReviewCommand(ctx *commandContext, action string) *cobra.Command {
	var edits editFlags
	var tags []string
	var reviewedBy string

	short := "Approve a flag: land the listing on its candidate parent"
	if action == flags.ActionReject {
		short = "Reject a flag: create a new product from the listing"
	}

	cmd := &cobra.Command{
		Use:   action + " <flag-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			input := flags.ReviewInput{
				Edits:      edits.edits(cmd.Flags()),
				IssueTags:  parseTags(tags),
				ReviewedBy: reviewedBy,
			}
			var flag *models.ScraperFlag
			if action == flags.ActionApprove {
				flag, err = a.flags.Approve(cmd.Context(), args[0], input)
			} else {
				flag, err = a.flags.Reject(cmd.Context(), args[0], input)
			}
			if err != nil {
				return err
			}
			renderResolvedFlag(cmd.OutOrStdout(), flag)
			return nil
		},
	}

	edits.register(cmd.Flags())
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Issue tags to record")
	cmd.Flags().StringVar(&reviewedBy, "by", "", "Reviewer name")
	return cmd
}

func newFlagsDismissCommand(ctx *commandContext) *cobra.Command {
	var tags []string
	var reviewedBy string

	cmd := &cobra.Command{
		Use:   "dismiss <flag-id>",
		Short: "Dismiss a flag without touching the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			flag, err := a.flags.Dismiss(cmd.Context(), args[0], flags.DismissInput{IssueTags: parseTags(tags), ReviewedBy: reviewedBy})
			if err != nil {
				return err
			}
			renderResolvedFlag(cmd.OutOrStdout(), flag)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Issue tags to record")
	cmd.Flags().StringVar(&reviewedBy, "by", "", "Reviewer name")
	return cmd
}

func newFlagsMergeCommand(ctx *commandContext) *cobra.Command {
	var reviewedBy string

	cmd := &cobra.Command{
		Use:   "merge <flag-id> <parent-id>",
		Short: "Record that the listing duplicates an existing parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			flag, err := a.flags.MarkDuplicateMerged(cmd.Context(), args[0], args[1], reviewedBy)
			if err != nil {
				return err
			}
			renderResolvedFlag(cmd.OutOrStdout(), flag)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewedBy, "by", "", "Reviewer name")
	return cmd
}

func newFlagsTagCommand(ctx *commandContext) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "tag <flag-id> <tag>",
		Short: "Apply an issue tag to a pending flag, or remove it with --off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			flag, err := a.flags.ToggleIssueTag(cmd.Context(), args[0], models.IssueTag(args[1]), !off)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writeTable(out, []string{"Field", "Original", "Working"}, fieldRows(flag.Original, flag.Working))
			fmt.Fprintf(out, "Tags: %s\n", joinTags(flag.IssueTags))
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Remove the tag instead of applying it")
	return cmd
}

func fieldRows(original, working models.EditableFields) [][]string {
	rows := make([][]string, 0, len(models.CorrectionFields))
	for _, f := range models.CorrectionFields {
		rows = append(rows, []string{string(f), original.Value(f), working.Value(f)})
	}
	return rows
}

func renderResolvedFlag(w io.Writer, flag *models.ScraperFlag) {
	writeTable(w,
		[]string{"ID", "Status", "Product", "Variant", "Corrections", "Tags"},
		[][]string{{
			flag.ID,
			flag.Status,
			optionalString(flag.ResolvedProductID),
			optionalString(flag.ResolvedVariantID),
			itoa(len(flag.Corrections)),
			joinTags(flag.IssueTags),
		}},
		4,
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
