package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"guildwarden/internal/fault"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guildwarden.db")
	store, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(store.Close)
	return store, path
}

func TestMigrateIsRepeatable(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertGuildSettings(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	got, err := store.GuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get defaults: %v", err)
	}
	if got.FloodLimit != 3 || got.SuggestionUp == "" || got.LinkPunishment != LinkPunishNone {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	got.LogChannel = "c1"
	got.LinkFilter = true
	got.MusicRoles = StringList{"r1"}
	if err := store.UpsertGuildSettings(ctx, got); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}

	updated, err := store.UpdateGuildSettings(ctx, "g1", func(s *GuildSettings) error {
		s.LogChannel = "c2"
		return nil
	})
	if err != nil {
		t.Fatalf("update guild settings: %v", err)
	}
	if updated.LogChannel != "c2" {
		t.Fatalf("expected channel c2, got %q", updated.LogChannel)
	}

	got, err = store.GuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.LogChannel != "c2" || !got.LinkFilter || !got.MusicRoles.Contains("r1") {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestWarningCap(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= MaxWarningsPerUser; i++ {
		count, err := store.AddWarning(ctx, Warning{GuildID: "g", UserID: "u", WarningID: fmt.Sprintf("w%02d", i), CreatedAt: int64(i)})
		if err != nil {
			t.Fatalf("add warning %d: %v", i, err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	_, err := store.AddWarning(ctx, Warning{GuildID: "g", UserID: "u", WarningID: "overflow"})
	if !fault.Is(err, fault.UserInput) {
		t.Fatalf("expected user input error, got %v", err)
	}
	count, err := store.CountWarnings(ctx, "g", "u")
	if err != nil || count != MaxWarningsPerUser {
		t.Fatalf("expected %d warnings, got %d (%v)", MaxWarningsPerUser, count, err)
	}

	removed, err := store.RemoveWarning(ctx, "g", "u", "w01")
	if err != nil || !removed {
		t.Fatalf("remove warning: %v %v", removed, err)
	}
}

func TestDuplicateWarningIsIntegrityViolation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	w := Warning{GuildID: "g", UserID: "u", WarningID: "same"}
	if _, err := store.AddWarning(ctx, w); err != nil {
		t.Fatalf("add warning: %v", err)
	}
	if _, err := store.AddWarning(ctx, w); !fault.Is(err, fault.IntegrityViolation) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
}

func TestPunishmentPolicyCap(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= MaxPoliciesPerGuild; i++ {
		if err := store.SetPunishmentPolicy(ctx, PunishmentPolicy{GuildID: "g", WarnCount: i, Action: PunishKick}); err != nil {
			t.Fatalf("set policy %d: %v", i, err)
		}
	}
	if err := store.SetPunishmentPolicy(ctx, PunishmentPolicy{GuildID: "g", WarnCount: 21, Action: PunishBan}); !fault.Is(err, fault.UserInput) {
		t.Fatalf("expected cap error, got %v", err)
	}
	if err := store.SetPunishmentPolicy(ctx, PunishmentPolicy{GuildID: "g", WarnCount: 3, Action: PunishTempban, DurationSeconds: 3600}); err != nil {
		t.Fatalf("replacing an existing count must not hit the cap: %v", err)
	}
	if err := store.SetPunishmentPolicy(ctx, PunishmentPolicy{GuildID: "g", WarnCount: 4, Action: PunishMute}); !fault.Is(err, fault.UserInput) {
		t.Fatalf("expected missing duration error, got %v", err)
	}

	policy, found, err := store.PunishmentPolicy(ctx, "g", 3)
	if err != nil || !found {
		t.Fatalf("get policy: %v %v", found, err)
	}
	if policy.Action != PunishTempban || policy.DurationSeconds != 3600 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
}

func TestAutoResponseRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	before, err := store.ListAutoResponses(ctx, "g")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := store.AddAutoResponse(ctx, AutoResponse{GuildID: "g", Trigger: "hello", MatchMode: MatchPrefix, Reply: "hi"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddAutoResponse(ctx, AutoResponse{GuildID: "g", Trigger: "HELLO", MatchMode: MatchEquals, Reply: "dup"}); !fault.Is(err, fault.UserInput) {
		t.Fatalf("expected duplicate trigger error, got %v", err)
	}
	rules, err := store.ListAutoResponses(ctx, "g")
	if err != nil || len(rules) != 1 || !rules[0].Matches("Hello there") {
		t.Fatalf("unexpected rules: %+v (%v)", rules, err)
	}
	if _, err := store.DeleteAutoResponse(ctx, "g", "Hello"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, err := store.ListAutoResponses(ctx, "g")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected pre-state, got %+v", after)
	}
}

func TestScheduledTasksSurviveReopen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()

	task := ScheduledTask{Kind: "tempban.unban", GuildID: "g", Key: "u", FireAt: 100, Payload: `{"user_id":"u"}`}
	if err := store.UpsertScheduledTask(ctx, task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	store.Close()

	reopened, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	tasks, err := reopened.ListScheduledTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || !reflect.DeepEqual(tasks[0], task) {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestLevelingProfileJSONColumns(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	profile := LevelingProfile{
		GuildID:     "g",
		RewardRoles: RewardRoles{5: "r5"},
		Alert:       LevelAlert{Mode: AlertBoth, ChannelID: "c", Template: "{user} reached {level}"},
		Multipliers: Multipliers{"booster": 10},
	}
	if err := store.UpsertLevelingProfile(ctx, profile); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.LevelingProfile(ctx, "g")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, profile) {
		t.Fatalf("expected %+v, got %+v", profile, got)
	}
}

func TestReserveTicketNumberIsMonotonic(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertTicketTemplate(ctx, TicketTemplate{GuildID: "g", MessageID: "m", ChannelID: "c", ChannelName: "ticket"}); err != nil {
		t.Fatalf("upsert template: %v", err)
	}
	for want := 1; want <= 3; want++ {
		_, got, err := store.ReserveTicketNumber(ctx, "g", "m")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if got != want {
			t.Fatalf("expected ticket %d, got %d", want, got)
		}
	}
	if _, _, err := store.ReserveTicketNumber(ctx, "g", "missing"); !fault.Is(err, fault.EntityMissing) {
		t.Fatalf("expected missing template, got %v", err)
	}
}

func TestFeedSeenIsBounded(t *testing.T) {
	var sub FeedSubscription
	for i := 0; i < MaxFeedSeenIDs+10; i++ {
		sub.Seen(fmt.Sprintf("id-%d", i))
	}
	sub.Seen("id-59")
	if len(sub.SeenIDs) != MaxFeedSeenIDs {
		t.Fatalf("expected %d ids, got %d", MaxFeedSeenIDs, len(sub.SeenIDs))
	}
	if sub.SeenIDs[len(sub.SeenIDs)-1] != "id-59" || sub.SeenIDs[0] != "id-10" {
		t.Fatalf("unexpected window: %v", sub.SeenIDs)
	}
}

func TestPermissionGrants(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.GrantCommand(ctx, "g", "r", "ban"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := store.GrantCommand(ctx, "g", "r", "ban"); err != nil {
		t.Fatalf("grant twice: %v", err)
	}
	grants, err := store.ListPermissionGrants(ctx, "g")
	if err != nil || len(grants) != 1 || len(grants[0].Commands) != 1 {
		t.Fatalf("unexpected grants: %+v (%v)", grants, err)
	}
	removed, err := store.RevokeCommand(ctx, "g", "r", "ban")
	if err != nil || !removed {
		t.Fatalf("revoke: %v %v", removed, err)
	}
	grants, err = store.ListPermissionGrants(ctx, "g")
	if err != nil || len(grants) != 0 {
		t.Fatalf("expected no grants, got %+v (%v)", grants, err)
	}
}
