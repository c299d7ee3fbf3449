package bot

import (
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Evaluate оценивает одну цену для защитной конфигурации.
// Чистая функция: cfg не меняется, новый high-water-mark возвращается в Evaluation.
//
// Порядок для trailing: сначала обновляется high-water-mark, потом
// считается уровень стопа и сравнивается с ценой.
//
// Если одновременно сработали стоп и тейк-профит, побеждает стоп.
// Нет цены (<= 0, NaN, Inf), нет позиции или конфигурация уже
// сработала: DecisionNone без изменения high-water-mark.
func Evaluate(cfg models.StopConfig, price float64, side string) models.Evaluation {
	ev := models.Evaluation{
		Decision:      models.DecisionNone,
		Price:         price,
		HighWaterMark: cfg.HighWaterMark,
	}

	if !cfg.Monitored() || !utils.IsFinitePositive(price) {
		return ev
	}

	var long bool
	switch side {
	case models.PositionSideLong:
		long = true
	case models.PositionSideShort:
		long = false
	default:
		return ev
	}

	hwm := cfg.HighWaterMark
	if hwm <= 0 {
		hwm = cfg.EntryPrice
	}

	var stop float64
	switch cfg.Kind {
	case models.StopKindFixed:
		stop = cfg.StopPrice
	case models.StopKindPercentage:
		stop = utils.PercentOffset(cfg.EntryPrice, cfg.StopPercentage, !long)
	case models.StopKindTrailing:
		if long {
			hwm = utils.Max(hwm, price)
		} else {
			hwm = utils.Min(hwm, price)
		}
		ev.HighWaterMark = hwm
		stop = utils.PercentOffset(hwm, cfg.TrailingPercentage, !long)
	default:
		return ev
	}
	ev.StopLevel = stop
	ev.TakeProfitLevel = TakeProfitLevel(cfg, long)

	stopHit := utils.IsFinitePositive(stop) && crossed(price, stop, !long)
	takeHit := ev.TakeProfitLevel > 0 && crossed(price, ev.TakeProfitLevel, long)

	switch {
	case stopHit:
		ev.Decision = models.DecisionStopHit
	case takeHit:
		ev.Decision = models.DecisionTakeProfitHit
	}
	return ev
}

// TakeProfitLevel уровень тейк-профита, 0 если не задан
func TakeProfitLevel(cfg models.StopConfig, long bool) float64 {
	switch {
	case cfg.TakeProfitPrice > 0:
		return cfg.TakeProfitPrice
	case cfg.TakeProfitPercentage > 0:
		level := utils.PercentOffset(cfg.EntryPrice, cfg.TakeProfitPercentage, long)
		if !utils.IsFinitePositive(level) {
			return 0
		}
		return level
	}
	return 0
}

// crossed true если цена дошла до уровня: сверху вниз (up=false) или снизу вверх
func crossed(price, level float64, up bool) bool {
	if up {
		return price >= level
	}
	return price <= level
}
