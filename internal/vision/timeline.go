package vision

import (
	"fmt"
	"strings"

	"github.com/reelscout/backend/internal/models"
)

var translations = map[string]string{
	"person":       "человек",
	"car":          "машина",
	"dog":          "собака",
	"cat":          "кошка",
	"bicycle":      "велосипед",
	"motorcycle":   "мотоцикл",
	"airplane":     "самолёт",
	"bus":          "автобус",
	"train":        "поезд",
	"truck":        "грузовик",
	"bird":         "птица",
	"horse":        "лошадь",
	"sheep":        "овца",
	"cow":          "корова",
	"bottle":       "бутылка",
	"wine glass":   "бокал",
	"cup":          "чашка",
	"fork":         "вилка",
	"knife":        "нож",
	"spoon":        "ложка",
	"bowl":         "миска",
	"banana":       "банан",
	"apple":        "яблоко",
	"chair":        "стул",
	"sofa":         "диван",
	"couch":        "диван",
	"bed":          "кровать",
	"dining table": "стол",
	"tv":           "телевизор",
	"laptop":       "ноутбук",
	"mouse":        "мышь",
	"keyboard":     "клавиатура",
	"cell phone":   "телефон",
	"book":         "книга",
	"clock":        "часы",
	"tie":          "галстук",
	"umbrella":     "зонт",
	"backpack":     "рюкзак",
	"handbag":      "сумка",
	"sports ball":  "мяч",
	"skateboard":   "скейтборд",
}

// Translate returns the localized name of a detection class, or the class
// itself when no translation is known.
func Translate(class string) string {
	if t, ok := translations[class]; ok {
		return t
	}
	return class
}

// DescribeFrame renders the confident detections of one frame as a localized
// phrase such as "человек, собака". Each class is listed once, in order of
// first appearance; a count appears only when distinct classes share a
// localized name.
func DescribeFrame(objects []Detection) string {
	var (
		order   []string
		counts  = make(map[string]int)
		classes = make(map[string]struct{})
	)
	for _, obj := range objects {
		if obj.Score <= MinScore {
			continue
		}
		if _, seen := classes[obj.Class]; seen {
			continue
		}
		classes[obj.Class] = struct{}{}

		name := Translate(obj.Class)
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	if len(order) == 0 {
		return EmptyFrame
	}

	parts := make([]string, 0, len(order))
	for _, name := range order {
		if n := counts[name]; n > 1 {
			parts = append(parts, fmt.Sprintf("%d %s%s", n, name, pluralEnding(name, n)))
			continue
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}

func pluralEnding(word string, count int) string {
	few := count >= 2 && count <= 4
	if word == "человек" {
		if few {
			return "а"
		}
		return ""
	}
	if few {
		return "а"
	}
	return "ов"
}

// CompactTimeline describes every frame (one frame per second) and merges
// consecutive frames with identical descriptions into one segment.
func CompactTimeline(frames []FrameDetections) []models.TimelineSegment {
	if len(frames) == 0 {
		return []models.TimelineSegment{}
	}

	var (
		segments = make([]models.TimelineSegment, 0)
		start    = 0
		visual   = DescribeFrame(frames[0].Objects)
	)
	for second := 1; second < len(frames); second++ {
		next := DescribeFrame(frames[second].Objects)
		if next == visual {
			continue
		}
		segments = append(segments, segment(start, second-1, visual))
		start, visual = second, next
	}
	return append(segments, segment(start, len(frames)-1, visual))
}

func segment(start, end int, visual string) models.TimelineSegment {
	duration := end - start + 1
	timeRange := fmt.Sprintf("%dс", start)
	if duration > 1 {
		timeRange = fmt.Sprintf("%d-%dс", start, end)
	}
	return models.TimelineSegment{
		TimeRange: timeRange,
		Visual:    visual,
		Duration:  fmt.Sprintf("%dс", duration),
	}
}
