package dispatch

// Interface strings keyed by language. Russian is the fallback for any
// missing key or unknown language.
var messages = map[string]map[string]string{
	"ru": {
		"help": "Команды:\n/report — отправить отчёт\n/post — опубликовать объявление\n/board — доска объявлений\n/tasks — список задач\n/pending — задачи на модерации\n/summary — вкл/выкл месячную сводку\n/lang ru|uk — язык\n/cancel — отменить",
		"choose_task":       "Выберите задачу:",
		"other_task":        "Другое…",
		"other_task_prompt": "Введите название задачи:",
		"select_reviewer":   "Кому показать работу? Выберите технолога:",
		"skip_reviewer":     "Без проверки",
		"enter_count":       "Сколько раз выполнено? Введите число:",
		"bad_count":         "Нужно целое число не меньше 1. Попробуйте ещё раз:",
		"report_saved":      "Отчёт сохранён ✅",
		"proposal_queued":   "Задача отправлена на модерацию.",
		"proposal_notify":   "Новая задача на модерации: %s (от %s)",
		"approved_notify":   "Ваша задача одобрена: %s",
		"rejected_notify":   "Ваша задача отклонена: %s",
		"pending_empty":     "Очередь модерации пуста.",
		"users_header":      "Сотрудники:",
		"zvit_totals":       "Всего выполнено: %d\nЗаписей: %d\nУчастников: %d",
		"ledger_empty":      "Журнал пуст.",
		"post_text_prompt":  "Введите текст объявления:",
		"post_media_prompt": "Прикрепите фото или отправьте /skip:",
		"post_published":    "Объявление опубликовано 📌",
		"board_empty":       "На доске пока пусто.",
		"canceled":          "Отменено.",
		"nothing_to_cancel": "Нечего отменять.",
		"no_permission":     "Недостаточно прав.",
		"lang_set":          "Язык переключён на русский.",
		"summary_on":        "Месячная сводка включена.",
		"summary_off":       "Месячная сводка выключена.",
		"unknown":           "Не понимаю. Отправьте /help для списка команд.",
	},
	"uk": {
		"help": "Команди:\n/report — надіслати звіт\n/post — опублікувати оголошення\n/board — дошка оголошень\n/tasks — список завдань\n/pending — завдання на модерації\n/summary — увімк/вимк місячний звіт\n/lang ru|uk — мова\n/cancel — скасувати",
		"choose_task":       "Оберіть завдання:",
		"other_task":        "Інше…",
		"other_task_prompt": "Введіть назву завдання:",
		"select_reviewer":   "Кому показати роботу? Оберіть технолога:",
		"skip_reviewer":     "Без перевірки",
		"enter_count":       "Скільки разів виконано? Введіть число:",
		"bad_count":         "Потрібне ціле число не менше 1. Спробуйте ще раз:",
		"report_saved":      "Звіт збережено ✅",
		"proposal_queued":   "Завдання надіслано на модерацію.",
		"proposal_notify":   "Нове завдання на модерації: %s (від %s)",
		"approved_notify":   "Ваше завдання схвалено: %s",
		"rejected_notify":   "Ваше завдання відхилено: %s",
		"pending_empty":     "Черга модерації порожня.",
		"users_header":      "Працівники:",
		"zvit_totals":       "Всього виконано: %d\nЗаписів: %d\nУчасників: %d",
		"ledger_empty":      "Журнал порожній.",
		"post_text_prompt":  "Введіть текст оголошення:",
		"post_media_prompt": "Прикріпіть фото або надішліть /skip:",
		"post_published":    "Оголошення опубліковано 📌",
		"board_empty":       "На дошці поки порожньо.",
		"canceled":          "Скасовано.",
		"nothing_to_cancel": "Нічого скасовувати.",
		"no_permission":     "Недостатньо прав.",
		"lang_set":          "Мову переключено на українську.",
		"summary_on":        "Місячний звіт увімкнено.",
		"summary_off":       "Місячний звіт вимкнено.",
		"unknown":           "Не розумію. Надішліть /help для списку команд.",
	},
}

func msg(lang, key string) string {
	if m, ok := messages[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return messages["ru"][key]
}
