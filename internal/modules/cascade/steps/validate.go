package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type ValidateDeps struct {
	Log             *logger.Logger
	RedundancyFloor int
	Now             func() time.Time
	NewID           func() string
}

type ValidateInput struct {
	Current *cascade.Graph
}

type ValidateOutput struct {
	Report *cascade.ValidationReport
}

type validator struct {
	g     *cascade.Graph
	floor int
	r     *cascade.ValidationReport
}

// Validate runs the five cascade checks over a committed graph snapshot. Content
// defects are returned as report findings; only a missing or unreadable graph
// is an error.
func Validate(ctx context.Context, deps ValidateDeps, in ValidateInput) (ValidateOutput, error) {
	out := ValidateOutput{}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	g := in.Current
	if g.Empty() {
		return out, cascade.NotFoundError("validate", "campaign has no cascade graph")
	}
	floor := deps.RedundancyFloor
	if floor < 2 {
		floor = 2
	}
	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}
	id := uuid.New().String()
	if deps.NewID != nil {
		id = deps.NewID()
	}

	v := &validator{
		g:     g,
		floor: floor,
		r: &cascade.ValidationReport{
			ID:           id,
			CampaignID:   g.CampaignID,
			GraphVersion: g.Version,
			CreatedAt:    now,
			Errors:       []cascade.Finding{},
			Warnings:     []cascade.Finding{},
			Suggestions:  []cascade.FixSuggestion{},
		},
	}
	v.r.Stats.CampaignObjectives = len(g.CampaignObjectives)
	v.r.Stats.QuestObjectives = len(g.QuestObjectives)
	v.r.Stats.Scenes = len(g.Scenes)

	v.campaignCoverage()
	v.questCoverage()
	v.resources()
	v.criteria()
	v.acyclicity()

	out.Report = v.r
	deps.Log.Info("validate: report",
		"campaign_id", g.CampaignID,
		"graph_version", g.Version,
		"errors", len(v.r.Errors),
		"warnings", len(v.r.Warnings),
		"suggestions", len(v.r.Suggestions),
	)
	return out, nil
}

func (v *validator) add(f cascade.Finding, fix *cascade.FixSuggestion) {
	if f.Severity == cascade.SeverityError {
		v.r.Errors = append(v.r.Errors, f)
	} else {
		v.r.Warnings = append(v.r.Warnings, f)
	}
	if fix != nil {
		v.r.Suggestions = append(v.r.Suggestions, *fix)
	}
}

func (v *validator) campaignCoverage() {
	for _, co := range v.g.SortedCampaignObjectives() {
		kids := v.g.Out(co.ID, cascade.RelDecomposesTo)
		if n := len(kids); n < 2 {
			v.add(cascade.Finding{
				Check:       cascade.CheckCampaignCoverage,
				Severity:    cascade.SeverityError,
				Code:        "insufficient_decomposition",
				SubjectID:   co.ID,
				SubjectKind: cascade.LabelCampaignObjective,
				Count:       n,
				Message:     fmt.Sprintf("campaign objective %q decomposes to %d quest objective(s), need at least 2", co.Description, n),
			}, &cascade.FixSuggestion{
				Action:     cascade.FixAddQuestObjective,
				TargetID:   co.ID,
				TargetKind: cascade.LabelCampaignObjective,
				Needed:     2 - n,
				Message:    fmt.Sprintf("add %d quest objective(s) for %q", 2-n, co.Description),
			})
			continue
		}
		quests := map[int]bool{}
		for _, e := range kids {
			if qo := v.g.QuestObjectives[e.To]; qo != nil && !qo.Optional {
				quests[qo.QuestNumber] = true
			}
		}
		if co.MinQuestsRequired > len(quests) {
			v.add(cascade.Finding{
				Check:       cascade.CheckCampaignCoverage,
				Severity:    cascade.SeverityWarning,
				Code:        "insufficient_quest_spread",
				SubjectID:   co.ID,
				SubjectKind: cascade.LabelCampaignObjective,
				Count:       len(quests),
				Message:     fmt.Sprintf("campaign objective %q spans %d quest(s), minimum is %d", co.Description, len(quests), co.MinQuestsRequired),
			}, nil)
		}
	}
}

func (v *validator) questCoverage() {
	st := &v.r.Stats
	for _, qo := range v.g.SortedQuestObjectives() {
		parents := v.g.Out(qo.ID, cascade.RelSupports)
		switch {
		case len(parents) == 0 && !qo.FreeStanding:
			v.add(cascade.Finding{
				Check:       cascade.CheckQuestCoverage,
				Severity:    cascade.SeverityError,
				Code:        "orphan_objective",
				SubjectID:   qo.ID,
				SubjectKind: cascade.LabelQuestObjective,
				QuestNumber: qo.QuestNumber,
				Message:     fmt.Sprintf("quest objective %q supports no campaign objective and is not free-standing", qo.Description),
			}, &cascade.FixSuggestion{
				Action:      cascade.FixLinkParent,
				TargetID:    qo.ID,
				TargetKind:  cascade.LabelQuestObjective,
				QuestNumber: qo.QuestNumber,
				Message:     fmt.Sprintf("link %q to its campaign objective or mark it free-standing", qo.Description),
			})
		case len(parents) > 1:
			v.add(cascade.Finding{
				Check:       cascade.CheckQuestCoverage,
				Severity:    cascade.SeverityError,
				Code:        "multiple_parents",
				SubjectID:   qo.ID,
				SubjectKind: cascade.LabelQuestObjective,
				QuestNumber: qo.QuestNumber,
				Count:       len(parents),
				Message:     fmt.Sprintf("quest objective %q supports %d campaign objectives", qo.Description, len(parents)),
			}, nil)
		}

		if qo.Optional {
			continue
		}
		st.ObjectivesChecked++
		n := len(v.g.In(qo.ID, cascade.RelAdvances))
		if n >= v.floor {
			st.ObjectivesRedundant++
			continue
		}
		sev, code := cascade.SeverityWarning, "low_scene_redundancy"
		if n == 0 {
			sev, code = cascade.SeverityError, "no_advancing_scene"
		}
		v.add(cascade.Finding{
			Check:       cascade.CheckQuestCoverage,
			Severity:    sev,
			Code:        code,
			SubjectID:   qo.ID,
			SubjectKind: cascade.LabelQuestObjective,
			QuestNumber: qo.QuestNumber,
			Count:       n,
			Message:     fmt.Sprintf("quest objective %q is advanced by %d scene(s)", qo.Description, n),
		}, &cascade.FixSuggestion{
			Action:      cascade.FixAddScene,
			TargetID:    qo.ID,
			TargetKind:  cascade.LabelQuestObjective,
			QuestNumber: qo.QuestNumber,
			Needed:      v.floor - n,
			Message:     fmt.Sprintf("add a scene advancing %q in quest %d", qo.Description, qo.QuestNumber),
		})
	}
	if st.ObjectivesChecked > 0 {
		st.ObjectiveRedundancyPercent = percent(st.ObjectivesRedundant, st.ObjectivesChecked)
	}
}

// reqUnit is one satisfiability unit: a set of interchangeable resources.
type reqUnit struct {
	key     string
	ids     []string
	kind    cascade.ResourceKind
	quest   int
	subject string
}

func (v *validator) reqUnits() []*reqUnit {
	units := map[string]*reqUnit{}
	addUnit := func(ids []string, kind cascade.ResourceKind, quest int, subject string) {
		ids = append([]string(nil), ids...)
		sort.Strings(ids)
		k := strings.Join(ids, ",")
		u := units[k]
		if u == nil {
			u = &reqUnit{key: k, ids: ids, kind: kind, quest: quest, subject: subject}
			units[k] = u
		}
		if quest > 0 && (u.quest == 0 || quest < u.quest) {
			u.quest = quest
		}
	}
	for _, sc := range v.g.SortedScenes() {
		for _, e := range v.g.Out(sc.ID, cascade.RelRequiresKnowledge) {
			addUnit([]string{e.To}, cascade.KindKnowledge, sc.QuestNumber, "")
		}
		for _, e := range v.g.Out(sc.ID, cascade.RelRequiresItem) {
			addUnit([]string{e.To}, cascade.KindItem, sc.QuestNumber, "")
		}
	}
	for _, oid := range objectiveIDs(v.g) {
		quest := 0
		if qo := v.g.QuestObjectives[oid]; qo != nil {
			quest = qo.QuestNumber
		}
		for _, c := range v.criteriaOf(oid) {
			kind, ok := c.Resource()
			if !ok || len(c.ResourceIDs) == 0 {
				continue
			}
			addUnit(c.ResourceIDs, kind, quest, oid)
		}
	}
	out := make([]*reqUnit, 0, len(units))
	for _, u := range units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// providers returns the distinct scenes providing any resource of u.
func (v *validator) providers(u *reqUnit) []string {
	set := map[string]bool{}
	for _, id := range u.ids {
		for _, e := range v.g.In(id, cascade.RelProvidesKnowledge, cascade.RelProvidesItem) {
			set[e.From] = true
		}
	}
	return sortedSet(set)
}

func (v *validator) resourceName(id string) string {
	if k := v.g.Knowledge[id]; k != nil {
		if k.Domain != "" {
			return fmt.Sprintf("%s (%s)", k.Name, k.Domain)
		}
		return k.Name
	}
	if it := v.g.Items[id]; it != nil {
		if it.Category != "" {
			return fmt.Sprintf("%s (%s)", it.Name, it.Category)
		}
		return it.Name
	}
	return id
}

func (v *validator) resources() {
	st := &v.r.Stats
	total := 0
	for _, u := range v.reqUnits() {
		st.RequiredResources++
		provs := v.providers(u)
		total += len(provs)
		n := len(provs)
		if n >= v.floor {
			st.RedundantResources++
			continue
		}
		names := make([]string, 0, len(u.ids))
		for _, id := range u.ids {
			names = append(names, v.resourceName(id))
		}
		label := strings.Join(names, " or ")
		sev, code := cascade.SeverityWarning, "single_provider"
		if n == 0 {
			sev, code = cascade.SeverityError, "no_provider"
		}
		msg := fmt.Sprintf("%s %s is provided by %d scene(s)", u.kind, label, n)
		if u.subject != "" {
			msg += " for objective " + u.subject
		}
		fixMsg := fmt.Sprintf("add a provider for %s %s", u.kind, label)
		if n > 0 {
			fixMsg = fmt.Sprintf("add a second provider for %s %s", u.kind, label)
		}
		if u.quest > 0 {
			fixMsg += fmt.Sprintf(" in quest %d", u.quest)
		}
		v.add(cascade.Finding{
			Check:       cascade.CheckResources,
			Severity:    sev,
			Code:        code,
			SubjectID:   u.key,
			SubjectKind: string(u.kind),
			QuestNumber: u.quest,
			Count:       n,
			Message:     msg,
		}, &cascade.FixSuggestion{
			Action:       cascade.FixAddProvider,
			TargetID:     u.ids[0],
			TargetKind:   string(u.kind),
			ResourceKind: u.kind,
			QuestNumber:  u.quest,
			Needed:       v.floor - n,
			Message:      fixMsg,
		})
	}
	if st.RequiredResources > 0 {
		st.ResourceRedundancyPercent = percent(st.RedundantResources, st.RequiredResources)
		st.MeanProvidersPerResource = float64(total) / float64(st.RequiredResources)
	}
}

func (v *validator) criteriaOf(oid string) []cascade.SuccessCriterion {
	if co := v.g.CampaignObjectives[oid]; co != nil {
		return co.SuccessCriteria
	}
	if qo := v.g.QuestObjectives[oid]; qo != nil {
		return qo.SuccessCriteria
	}
	return nil
}

func (v *validator) criteria() {
	for _, oid := range objectiveIDs(v.g) {
		kind := v.g.LabelOf(oid)
		crit := v.criteriaOf(oid)
		if len(crit) == 0 {
			v.add(cascade.Finding{
				Check:       cascade.CheckCriteria,
				Severity:    cascade.SeverityError,
				Code:        "missing_criteria",
				SubjectID:   oid,
				SubjectKind: kind,
				Message:     fmt.Sprintf("%s %s has no success criteria", kind, oid),
			}, &cascade.FixSuggestion{
				Action:     cascade.FixAddCriteria,
				TargetID:   oid,
				TargetKind: kind,
				Message:    fmt.Sprintf("declare success criteria for %s", oid),
			})
			continue
		}
		for _, c := range crit {
			if _, ok := c.Resource(); ok && len(c.ResourceIDs) == 0 {
				v.add(cascade.Finding{
					Check:       cascade.CheckCriteria,
					Severity:    cascade.SeverityError,
					Code:        "unresolved_criterion",
					SubjectID:   oid,
					SubjectKind: kind,
					Message:     fmt.Sprintf("criterion %s of %s resolves to no resource", c, oid),
				}, nil)
				continue
			}
			for _, ref := range v.dangling(c) {
				v.add(cascade.Finding{
					Check:       cascade.CheckCriteria,
					Severity:    cascade.SeverityError,
					Code:        "dangling_reference",
					SubjectID:   oid,
					SubjectKind: kind,
					Message:     fmt.Sprintf("criterion %s of %s references unknown %s", c, oid, ref),
				}, &cascade.FixSuggestion{
					Action:     cascade.FixRemoveDangling,
					TargetID:   oid,
					TargetKind: kind,
					Message:    fmt.Sprintf("drop reference %s from %s", ref, oid),
				})
			}
		}
	}
}

func (v *validator) dangling(c cascade.SuccessCriterion) []string {
	var out []string
	for _, id := range c.ResourceIDs {
		if v.g.Knowledge[id] == nil && v.g.Items[id] == nil {
			out = append(out, id)
		}
	}
	for _, id := range c.SceneIDs {
		if v.g.Scenes[id] == nil {
			out = append(out, id)
		}
	}
	for _, id := range c.ObjectiveIDs {
		if !v.g.IsObjective(id) {
			out = append(out, id)
		}
	}
	return out
}

// dependencies builds the "must be done before" relation over objectives and
// scenes. Resources with exactly one provider pin their requirer to that scene.
func (v *validator) dependencies() map[string][]string {
	deps := map[string]map[string]bool{}
	link := func(from, to string) {
		if deps[from] == nil {
			deps[from] = map[string]bool{}
		}
		deps[from][to] = true
	}
	soleProvider := func(ids []string) string {
		provs := v.providers(&reqUnit{ids: ids})
		if len(provs) == 1 {
			return provs[0]
		}
		return ""
	}
	for _, e := range v.g.Edges() {
		if e.Type == cascade.RelDecomposesTo {
			link(e.From, e.To)
		}
	}
	for _, oid := range objectiveIDs(v.g) {
		for _, c := range v.criteriaOf(oid) {
			switch c.Kind {
			case cascade.CriterionObjectiveCompletion:
				for _, id := range c.ObjectiveIDs {
					link(oid, id)
				}
			case cascade.CriterionSceneCompletion:
				for _, id := range c.SceneIDs {
					link(oid, id)
				}
			default:
				if p := soleProvider(c.ResourceIDs); p != "" {
					link(oid, p)
				}
			}
		}
	}
	for _, sc := range v.g.SortedScenes() {
		if len(v.g.In(sc.ID, cascade.RelAlternativePath)) == 0 {
			for _, e := range v.g.In(sc.ID, cascade.RelNext) {
				link(sc.ID, e.From)
			}
		}
		for _, e := range v.g.Out(sc.ID, cascade.RelRequiresKnowledge, cascade.RelRequiresItem) {
			if p := soleProvider([]string{e.To}); p != "" {
				link(sc.ID, p)
			}
		}
	}
	out := make(map[string][]string, len(deps))
	for k, set := range deps {
		out[k] = sortedSet(set)
	}
	return out
}

func (v *validator) acyclicity() {
	deps := v.dependencies()
	nodes := make([]string, 0, len(deps))
	for k := range deps {
		nodes = append(nodes, k)
	}
	sort.Strings(nodes)

	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var stack []string
	seen := map[string]bool{}
	var visit func(n string)
	visit = func(n string) {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range deps[n] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				cycle := cycleFrom(stack, next)
				if k := canonicalCycle(cycle); !seen[k] {
					seen[k] = true
					v.reportCycle(cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}
	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
}

func (v *validator) reportCycle(cycle []string) {
	names := make([]string, 0, len(cycle)+1)
	for _, id := range cycle {
		names = append(names, v.g.LabelOf(id)+":"+id)
	}
	names = append(names, names[0])
	code := "dependency_cycle"
	for _, id := range cycle {
		if v.g.Scenes[id] == nil {
			continue
		}
		if len(v.g.Out(id, cascade.RelRequiresKnowledge, cascade.RelRequiresItem)) > 0 {
			code = "resource_deadlock"
		}
	}
	v.add(cascade.Finding{
		Check:       cascade.CheckAcyclicity,
		Severity:    cascade.SeverityError,
		Code:        code,
		SubjectID:   cycle[0],
		SubjectKind: v.g.LabelOf(cycle[0]),
		Count:       len(cycle),
		Message:     "dependency cycle: " + strings.Join(names, " -> "),
	}, &cascade.FixSuggestion{
		Action:     cascade.FixBreakCycle,
		TargetID:   cycle[0],
		TargetKind: v.g.LabelOf(cycle[0]),
		Message:    fmt.Sprintf("remove one dependency among %d nodes starting at %s", len(cycle), cycle[0]),
	})
}

func cycleFrom(stack []string, start string) []string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == start {
			return append([]string(nil), stack[i:]...)
		}
	}
	return []string{start}
}

// canonicalCycle rotates a cycle to start at its smallest id.
func canonicalCycle(cycle []string) string {
	lo := 0
	for i, id := range cycle {
		if id < cycle[lo] {
			lo = i
		}
	}
	rot := append(append([]string(nil), cycle[lo:]...), cycle[:lo]...)
	return strings.Join(rot, ">")
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
