package config

import (
	"time"

	"github.com/spf13/viper"
)

const defaultPersonaScript = `You are Luna, a 23 year old woman chatting privately with a fan.
Write like a real person on a phone: short lowercase fragments, casual slang,
playful and warm, never formal and never robotic. Never admit to being an AI.

Funnel phases, in order, advance only when the lead is ready:
WELCOME: greet, ask the lead's name.
CONNECTION: small talk, learn about their day, build rapport.
TRIGGER / INSTIGATE: raise tension and curiosity with teasing.
PREVIEW: offer a free preview from the available media.
OFFER: present the full pack anchored at the anchor price.
NEGOTIATION: defend value; accept offers at or above the floor, counter below it.
CLOSING: request payment with the exact agreed amount.
PAYMENT_CHECK: when the lead says they paid, check the payment status.
FARMING: after a sale keep the lead warm for future offers.
REACTIVATION: bring an idle lead back into the conversation.

Vocabulary rules: never use the words "bot", "assistant", "AI" or "model".
Never promise in-person meetings. Always reply with 1 to 4 short messages.`

var defaultTasks = map[string]any{
	"sql_maintenance":   map[string]any{"enabled": true, "schedule": "0 0 4 * * 0"},
	"payment_reconcile": map[string]any{"enabled": true, "schedule": "0 */5 * * * *"},
	"reactivation":      map[string]any{"enabled": false, "schedule": "0 0 */6 * * *"},
}

// setDefaults registers default values for every optional key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "funnelbot.db")

	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.9)
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.retry_delay", 2*time.Second)

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.typing_interval", 4*time.Second)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 90*time.Second)
	v.SetDefault("http.allowed_origins", []string{})

	v.SetDefault("payment.base_url", "https://api.pix.example.com/v1")
	v.SetDefault("payment.timeout", 15*time.Second)
	v.SetDefault("payment.max_retries", 2)
	v.SetDefault("payment.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("payment.payer_name", "Cliente")
	v.SetDefault("payment.payer_email", "cliente@example.com")

	v.SetDefault("funnel.persona_script", defaultPersonaScript)
	v.SetDefault("funnel.pricing.default", map[string]any{"anchor": 50.0, "offer": 35.0, "floor": 25.0, "premium": 90.0})
	v.SetDefault("funnel.pricing.devices", map[string]any{
		"ios": map[string]any{"anchor": 80.0, "offer": 60.0, "floor": 40.0, "premium": 150.0},
	})
	v.SetDefault("funnel.affinity_threshold", 7)
	v.SetDefault("funnel.max_payment_checks", 1)
	v.SetDefault("funnel.generator_timeout", 60*time.Second)
	v.SetDefault("funnel.history_max_tokens", 24000)
	v.SetDefault("funnel.reactivation_after", 24*time.Hour)
	v.SetDefault("funnel.reactivation_batch", 20)
	v.SetDefault("funnel.reactivation_input", "[SYSTEM] The lead has been silent for a while. Send a short, natural message to bring them back into the conversation.")

	v.SetDefault("delivery.reading_wpm", 250.0)
	v.SetDefault("delivery.reading_min", 800*time.Millisecond)
	v.SetDefault("delivery.reading_max", 3000*time.Millisecond)
	v.SetDefault("delivery.typing_cps", 3.5)
	v.SetDefault("delivery.typing_jitter", 0.2)
	v.SetDefault("delivery.thinking_threshold", 50)
	v.SetDefault("delivery.thinking_min", 400*time.Millisecond)
	v.SetDefault("delivery.thinking_max", 1200*time.Millisecond)
	v.SetDefault("delivery.typing_min", 1000*time.Millisecond)
	v.SetDefault("delivery.typing_max", 8000*time.Millisecond)
	v.SetDefault("delivery.pause_min", 500*time.Millisecond)
	v.SetDefault("delivery.pause_max", 1500*time.Millisecond)

	v.SetDefault("realtime.grace", 3*time.Second)
	v.SetDefault("realtime.poll_interval", 2*time.Second)

	v.SetDefault("queue.max_concurrent", 8)
	v.SetDefault("queue.max_pending", 16)

	v.SetDefault("scheduler.tasks", defaultTasks)

	v.SetDefault("messages.fallback", "aii amor minha conexao ta ruim, manda de novo?")
	v.SetDefault("messages.media_unavailable", "ai amor nao consegui te mandar agora, ja ja te mando")
	v.SetDefault("messages.payment_failed", "amor o sistema do pix deu erro aqui, tenta de novo daqui a pouco?")
	v.SetDefault("messages.payment_pending", "ainda nao caiu aqui amor, me avisa quando pagar")
	v.SetDefault("messages.payment_code_fmt", "pix copia e cola (R$ %.2f):\n%s")
	v.SetDefault("messages.no_charge_feedback", "[SYSTEM] No payment request exists for this lead yet. Do not confirm any payment.")
	v.SetDefault("messages.pending_feedback", "[SYSTEM] Payment %s of R$ %.2f is still pending. Tell the lead it has not arrived yet.")
	v.SetDefault("messages.approved_feedback", "[SYSTEM] Payment %s of R$ %.2f was approved. Thank the lead and deliver the content.")
	v.SetDefault("messages.unknown_feedback", "[SYSTEM] Payment %s of R$ %.2f has status %s. Ask the lead to try paying again.")
	v.SetDefault("messages.check_failed_feedback", "[SYSTEM] The payment status could not be verified right now. Ask the lead to wait a moment.")
	v.SetDefault("messages.media_notice_fmt", "[SYSTEM] New media became available:\n%s")

	v.SetDefault("messages.error_general_msg", "❌ An error occurred. Please try again later.")
	v.SetDefault("messages.error_unauthorized", "🚫 Access denied.")
	v.SetDefault("messages.sessions_header", "📋 Recent sessions:")
	v.SetDefault("messages.sessions_empty", "No sessions yet.")
	v.SetDefault("messages.status_changed_fmt", "Session %s is now %s.")
	v.SetDefault("messages.say_usage", "Usage: /say <session_id> <text>")
	v.SetDefault("messages.session_id_usage", "Usage: /%s <session_id>")
	v.SetDefault("messages.session_not_found", "Session not found.")
	v.SetDefault("messages.media_header", "🖼 Preview catalog:")
	v.SetDefault("messages.media_empty", "The preview catalog is empty.")
	v.SetDefault("messages.operator_sent", "✅ Sent.")
	v.SetDefault("messages.start_input", "[SYSTEM] A new lead just opened the chat. Greet them.")
}
