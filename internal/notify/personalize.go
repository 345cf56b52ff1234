package notify

import (
	"fmt"
	"math"
	"strings"

	"github.com/mmeshcher/barter-system/internal/model"
)

// Tier возвращает название уровня блогера по числу подписчиков.
func Tier(followers int64) string {
	switch {
	case followers <= 6000:
		return "Микроблогер"
	case followers <= 10500:
		return "Макроблогер тип A"
	default:
		return "Макроблогер тип B"
	}
}

// Rating вычисляет рейтинг блогера от 1 до 10 по подписчикам, просмотрам
// и штрафам. Неположительные значения не дают вклада.
func Rating(u *model.User) float64 {
	var followersScore, viewsScore float64
	if u.Followers > 0 {
		followersScore = math.Log10(float64(u.Followers)) * 2.5
	}
	if u.AvgViews > 0 {
		viewsScore = math.Log10(float64(u.AvgViews)) * 4.5
	}

	rating := (followersScore + viewsScore - float64(u.Strikes)*1.5) / 25 * 10
	return math.Max(1, math.Min(10, rating))
}

// InstagramLink форматирует Markdown-ссылку на профиль блогера.
func InstagramLink(login string) string {
	login = strings.TrimPrefix(login, "@")
	return fmt.Sprintf("[@%s](https://www.instagram.com/%s)", login, login)
}

// Personalize подставляет данные профиля блогера в шаблон сообщения.
func Personalize(template string, u *model.User) string {
	if u == nil {
		return template
	}

	replacer := strings.NewReplacer(
		"{firstName}", u.FirstName,
		"{instagramLogin}", InstagramLink(u.Instagram),
		"{followersCount}", fmt.Sprintf("%d", u.Followers),
		"{level}", Tier(u.Followers),
		"{rating}", fmt.Sprintf("%.1f", Rating(u)),
	)
	return replacer.Replace(template)
}
