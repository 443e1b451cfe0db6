package cascade

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes deterministic ids generated by the engine.
var idNamespace = uuid.MustParse("6f1c9f8e-3a52-4c1e-9d0b-7e1f4d2b8a63")

// StableID derives a deterministic id from its parts so that re-running a
// stage with identical inputs upserts the same nodes.
func StableID(kind string, parts ...string) string {
	key := kind + "\x1f" + strings.Join(parts, "\x1f")
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// CampaignObjectiveID keys a campaign objective by campaign and description.
func CampaignObjectiveID(campaignID, description string) string {
	return StableID(LabelCampaignObjective, campaignID, normalizeText(description))
}

// QuestObjectiveID keys a quest objective by campaign, quest number and description.
func QuestObjectiveID(campaignID string, questNumber int, description string) string {
	return StableID(LabelQuestObjective, campaignID, strconv.Itoa(questNumber), normalizeText(description))
}

// SceneID keys a scene by campaign, quest number and sequence position.
func SceneID(campaignID string, questNumber, sequence int) string {
	return StableID(LabelScene, campaignID, strconv.Itoa(questNumber), strconv.Itoa(sequence))
}

// ResourceID keys a catalog resource by campaign, kind and name.
func ResourceID(campaignID string, kind ResourceKind, name string) string {
	return StableID(string(kind), campaignID, normalizeText(name))
}

// Fingerprint hashes parts into a short stable digest.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
