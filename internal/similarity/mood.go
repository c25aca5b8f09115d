package similarity

import (
	"sort"
	"strings"
)

// Mood similarity levels, in ladder order.
const (
	MoodExact       = 1.0
	MoodContainment = 0.7
	MoodGroupMatch  = 0.5
)

// AffinityGroups maps a group name to the mood labels considered loosely
// equivalent. Labels are matched after NormalizeKeyword.
var AffinityGroups = map[string][]string{
	"fun":       {"fun", "humor", "joy", "amusing", "funny", "playful", "재미", "유머", "즐거움", "웃긴"},
	"touching":  {"touching", "warm", "healing", "emotional", "heartwarming", "감동", "따뜻함", "힐링", "감성"},
	"calm":      {"calm", "quiet", "peaceful", "relaxing", "serene", "cozy", "차분함", "평온", "잔잔함", "아늑함"},
	"energetic": {"energetic", "exciting", "dynamic", "lively", "upbeat", "신남", "활기", "역동적", "짜릿함"},
	"dark":      {"dark", "gloomy", "melancholy", "sad", "moody", "어두움", "우울", "슬픔"},
	"romantic":  {"romantic", "lovely", "dreamy", "sweet", "로맨틱", "설렘", "사랑스러움"},
	"nostalgic": {"nostalgic", "retro", "vintage", "memories", "추억", "레트로", "빈티지"},
	"serious":   {"serious", "formal", "professional", "focused", "진지함", "전문적"},
}

// MoodAffinity scores categorical closeness of mood labels over a static
// group table.
type MoodAffinity struct {
	groups  map[string][]string
	byLabel map[string][]string
}

// NewMoodAffinity builds a MoodAffinity from a group-name -> labels table.
func NewMoodAffinity(groups map[string][]string) *MoodAffinity {
	m := &MoodAffinity{
		groups:  groups,
		byLabel: make(map[string][]string),
	}
	for name, labels := range groups {
		for _, l := range labels {
			n := NormalizeKeyword(l)
			if n == "" {
				continue
			}
			m.byLabel[n] = append(m.byLabel[n], name)
		}
	}
	return m
}

var defaultMoods = NewMoodAffinity(AffinityGroups)

// DefaultMoodAffinity returns the shared table built from AffinityGroups.
func DefaultMoodAffinity() *MoodAffinity {
	return defaultMoods
}

// MoodSimilarity scores two mood labels with the default affinity table.
func MoodSimilarity(a, b string) float64 {
	return defaultMoods.Similarity(a, b)
}

// KnownMoods returns every label in the default affinity table, sorted.
func KnownMoods() []string {
	return defaultMoods.Labels()
}

// Similarity applies the ladder: missing -> 0, exact -> 1, containment -> 0.7,
// shared affinity group -> 0.5, otherwise 0.
func (m *MoodAffinity) Similarity(a, b string) float64 {
	a = NormalizeKeyword(a)
	b = NormalizeKeyword(b)

	switch {
	case a == "" || b == "":
		return 0
	case a == b:
		return MoodExact
	case strings.Contains(a, b) || strings.Contains(b, a):
		return MoodContainment
	case m.sameGroup(a, b):
		return MoodGroupMatch
	default:
		return 0
	}
}

// Group returns the names of the groups label belongs to.
func (m *MoodAffinity) Group(label string) []string {
	return m.byLabel[NormalizeKeyword(label)]
}

// Groups returns the group names of the table, sorted.
func (m *MoodAffinity) Groups() []string {
	names := make([]string, 0, len(m.groups))
	for name := range m.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Labels returns all normalized labels of the table, sorted.
func (m *MoodAffinity) Labels() []string {
	labels := make([]string, 0, len(m.byLabel))
	for l := range m.byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func (m *MoodAffinity) sameGroup(a, b string) bool {
	ga, gb := m.byLabel[a], m.byLabel[b]
	for _, x := range ga {
		for _, y := range gb {
			if x == y {
				return true
			}
		}
	}
	return false
}
