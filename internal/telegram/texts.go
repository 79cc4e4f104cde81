package telegram

// User-facing texts, HTML parse mode
const (
	msgWelcome = "ᚱ <b>Руны</b> — бот для гадания на скандинавских рунах.\n\n" +
		"Задайте вопрос, выберите расклад, и руны подскажут, на что обратить внимание. " +
		"Каждый расклад стоит несколько лимитов, лимиты восстанавливаются каждый день.\n\n" +
		"Ваш ID: <code>%s</code>\nЛимитов: <b>%d</b>"
	msgChooseAction = "Выберите действие:"
	msgHowTo        = "📜 <b>Как гадать</b>\n\n" +
		"1. Выберите расклад в меню.\n" +
		"2. Сформулируйте вопрос, честно и конкретно.\n" +
		"3. Получите руны и их толкование.\n\n" +
		"Одна руна даёт короткий ответ, расклады из нескольких рун показывают ситуацию подробнее."
	msgStoreError = "⚠️ Сервис временно недоступен. Попробуйте позже."

	msgAskQuestion     = "Расклад «%s», стоимость %d лим.\n\nЗадайте ваш вопрос:"
	msgQuestionEmpty   = "Напишите вопрос текстом."
	msgQuestionTooLong = "Вопрос слишком длинный, не больше %d символов."
	msgInsufficient    = "😔 Недостаточно лимитов: расклад стоит %d, на балансе %d.\n\n" +
		"Лимиты восстановятся завтра, или пополните баланс в меню «Пополнить лимиты»."
	msgOracleError = "Упс, руны сейчас молчат. Лимиты не списаны, попробуйте ещё раз чуть позже."

	msgMyLimits = "💎 Лимитов на балансе: <b>%d</b>\nВаш ID: <code>%s</code>"

	msgAskAmount = "Введите сумму в рублях для пополнения баланса. 💎\n\n" +
		"Оплата проходит официально и безопасно через сервис ЮKassa, вы получите чек.\n\n" +
		"Стоимость одного лимита: %d ₽\n\nПример: 150"
	msgBadAmount      = "Пожалуйста, введите корректную сумму числом."
	msgAmountTooSmall = "Минимальная сумма пополнения: %d ₽."
	msgPaymentFailed  = "Ошибка при создании платежа. Попробуйте позже."
	msgPaymentLink    = "💳 Ссылка на оплату %s ₽:\n\n%s\n\nПосле успешной оплаты лимиты будут зачислены автоматически."

	msgCreditedByAdmin = "💎 Вам начислено %d лимитов."
)

// Admin texts
const (
	msgAdminAskCredit  = "Отправьте ID пользователя и количество лимитов через пробел.\n\nПример: <code>RUNES-AB12CD 100</code>"
	msgAdminAskBalance = "Отправьте ID пользователя.\n\nПример: <code>RUNES-AB12CD</code>"
	msgAdminBadCredit  = "Формат: &lt;ID&gt; &lt;количество&gt;, например <code>RUNES-AB12CD 100</code>"
	msgAdminBadBalance = "Не похоже на ID пользователя, пример: <code>RUNES-AB12CD</code>"
	msgAdminUnknownID  = "Пользователь <code>%s</code> не найден."
	msgAdminCredited   = "✅ Начислено %d лимитов пользователю <code>%s</code>."
	msgAdminNewBalance = "\nБаланс: <b>%d</b>"
	msgAdminBalance    = "ID: <code>%s</code>\nTelegram ID: <code>%d</code>\nЛимитов: <b>%d</b>"
	msgAdminStats      = "📊 <b>Статистика</b>\n\n" +
		"Подписчиков: <b>%d</b>\n" +
		"Раскладов за сутки: <b>%d</b>\n" +
		"Раскладов всего: <b>%d</b>\n" +
		"Начислено лимитов: <b>%d</b>"
	msgBroadcastStarted = "📣 Рассылка запущена."
	msgBroadcastDone    = "📣 Рассылка завершена: доставлено %d из %d, ошибок %d."
)
