package telegram

import (
	"github.com/go-telegram/bot/models"
	"github.com/suspectuso/runes-oracle/internal/config"
)

// Menu buttons
const (
	BtnOneRune    = "Одна руна"
	BtnThreeRunes = "Три руны"
	BtnFourRunes  = "Четыре руны"
	BtnFate       = "Судьба"
	BtnField      = "Вспаханное поле"
	BtnHowTo      = "Как гадать"
	BtnMyLimits   = "Мои лимиты"
	BtnTopUp      = "Пополнить лимиты"
	BtnMainMenu   = "Главное меню"

	BtnAdminCredit  = "Пополнить"
	BtnAdminBalance = "Баланс"
	BtnAdminStats   = "Статистика"
)

// spreadButtons maps menu buttons to draw kinds
var spreadButtons = map[string]string{
	BtnOneRune:    config.KindOneRune,
	BtnThreeRunes: config.KindThreeRunes,
	BtnFourRunes:  config.KindFourRunes,
	BtnFate:       config.KindFate,
	BtnField:      config.KindField,
}

func isMenuButton(text string) bool {
	if _, ok := spreadButtons[text]; ok {
		return true
	}
	switch text {
	case BtnHowTo, BtnMyLimits, BtnTopUp, BtnMainMenu:
		return true
	}
	return false
}

func isAdminButton(text string) bool {
	switch text {
	case BtnAdminCredit, BtnAdminBalance, BtnAdminStats:
		return true
	}
	return false
}

func buttons(labels ...string) []models.KeyboardButton {
	row := make([]models.KeyboardButton, 0, len(labels))
	for _, l := range labels {
		row = append(row, models.KeyboardButton{Text: l})
	}
	return row
}

// MainKeyboard returns the main menu keyboard
func MainKeyboard(admin bool) *models.ReplyKeyboardMarkup {
	rows := [][]models.KeyboardButton{
		buttons(BtnOneRune, BtnThreeRunes),
		buttons(BtnFourRunes, BtnFate),
		buttons(BtnField, BtnHowTo),
		buttons(BtnMyLimits, BtnTopUp),
	}
	if admin {
		rows = append(rows, buttons(BtnAdminCredit, BtnAdminBalance, BtnAdminStats))
	}
	return &models.ReplyKeyboardMarkup{
		Keyboard:       rows,
		ResizeKeyboard: true,
	}
}

// BackKeyboard returns a single main menu button
func BackKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard:       [][]models.KeyboardButton{buttons(BtnMainMenu)},
		ResizeKeyboard: true,
	}
}
