package synthetic

import (
	"callaudit-server/pkg/models"
)

// Template dialogue blocks for synthetic transcripts. Keys are persona,
// language, then block name (greeting_*, body_*, closing_*). Each block
// is an ordered list of turns with the segment label already applied.

func agentTurn(seg models.Segment, text string) models.Turn {
	return models.Turn{Speaker: models.SpeakerAgent, Text: text, Segment: seg}
}

func customerTurn(seg models.Segment, text string) models.Turn {
	return models.Turn{Speaker: models.SpeakerCustomer, Text: text, Segment: seg}
}

var collectionsEN = map[string][]models.Turn{
	"greeting_full": {
		agentTurn(models.SegmentGreeting, "Thank you for calling Premier Auto Finance, this is Sarah. May I have your name please?"),
		customerTurn(models.SegmentGreeting, "Yes, this is James Miller."),
		agentTurn(models.SegmentGreeting, "Thank you, Mr. Miller. This is an attempt to collect a debt. Any information will be used for that purpose. Can you confirm the last four of your social and your date of birth so I can pull up your account?"),
		customerTurn(models.SegmentGreeting, "Sure, it's 4522 and DOB 03-15-1985."),
		agentTurn(models.SegmentGreeting, "Thank you, I've verified you. How can I help you today?"),
	},
	"greeting_ok": {
		agentTurn(models.SegmentGreeting, "Thank you for calling Premier Auto Finance, this is Sarah. Who do I have the pleasure of speaking with?"),
		customerTurn(models.SegmentGreeting, "James Miller."),
		agentTurn(models.SegmentGreeting, "Thank you. Can you confirm last four of social and date of birth for security?"),
		customerTurn(models.SegmentGreeting, "4522, 03-15-85."),
		agentTurn(models.SegmentGreeting, "Thanks. I have your account. How can I help?"),
	},
	"greeting_no_miranda_no_rpv": {
		agentTurn(models.SegmentGreeting, "Premier Auto Finance, this is Sarah."),
		customerTurn(models.SegmentGreeting, "Hi, I'm calling about my account."),
		agentTurn(models.SegmentGreeting, "Sure, what's the account number? I'll pull it up."),
		customerTurn(models.SegmentGreeting, "It's 789234."),
		agentTurn(models.SegmentGreeting, "I see you're past due by 45 days. The balance is $2,400. We need to get this resolved."),
	},
	"body_accurate_recap": {
		customerTurn(models.SegmentBody, "I want to set up a payment plan."),
		agentTurn(models.SegmentBody, "I can offer a payment arrangement. Your current past-due amount is $800. We can do two payments of $400 due on the 15th and 30th. Would that work?"),
		customerTurn(models.SegmentBody, "Yes."),
		agentTurn(models.SegmentBody, "I'll note two payments of $400, first due on the 15th and second on the 30th. You'll receive a confirmation. Is there anything else?"),
		customerTurn(models.SegmentBody, "No, that's it."),
	},
	"body_no_recap": {
		customerTurn(models.SegmentBody, "I can pay $400 next week."),
		agentTurn(models.SegmentBody, "I can set that up. So $400 next week. Anything else?"),
		customerTurn(models.SegmentBody, "No."),
		agentTurn(models.SegmentBody, "Thanks. Goodbye."),
	},
	"body_aggressive": {
		agentTurn(models.SegmentBody, "You're 45 days past due. We need payment now or we're sending this to repossession. What are you going to do?"),
		customerTurn(models.SegmentBody, "I'm trying to work with you."),
		agentTurn(models.SegmentBody, "Then pay. When? Today?"),
		customerTurn(models.SegmentBody, "I can do $400 Friday."),
		agentTurn(models.SegmentBody, "Fine. Friday. Don't miss it."),
	},
	"body_wrong_balance": {
		agentTurn(models.SegmentBody, "Your balance is $2,100 and we need it paid."),
		customerTurn(models.SegmentBody, "I thought it was $1,900."),
		agentTurn(models.SegmentBody, "It's $2,100. Let's get it taken care of."),
	},
	"body_third_party": {
		customerTurn(models.SegmentBody, "Hi, I'm calling for my brother, he's at work. Can you tell me what he owes?"),
		agentTurn(models.SegmentBody, "Sure, what's his name and account number? I can look it up and see what we can do for him. I might be able to waive some fees if he calls back by Friday."),
	},
	"body_casual": {
		customerTurn(models.SegmentBody, "I missed the payment, can we fix it?"),
		agentTurn(models.SegmentBody, "No worries, we can totally sort that out."),
		customerTurn(models.SegmentBody, "Friday works for me."),
		agentTurn(models.SegmentBody, "Awesome, gonna set that up for Friday then."),
	},
	"closing_recap": {
		agentTurn(models.SegmentClosing, "To confirm: two payments of $400 on the 15th and 30th. You'll get a confirmation. Thank you for calling Premier Auto Finance. Have a good day."),
	},
	"closing_none": {},
}

var collectionsES = map[string][]models.Turn{
	"greeting_full": {
		agentTurn(models.SegmentGreeting, "Gracias por llamar a Premier Auto Finance, soy María. ¿Me da su nombre por favor?"),
		customerTurn(models.SegmentGreeting, "Sí, soy Carlos Rodríguez."),
		agentTurn(models.SegmentGreeting, "Gracias, Sr. Rodríguez. Esta es una comunicación para cobrar una deuda. ¿Puede confirmar los últimos cuatro de su seguro social y su fecha de nacimiento para verificar su cuenta?"),
		customerTurn(models.SegmentGreeting, "Claro, 8899 y 20 de mayo de 1980."),
		agentTurn(models.SegmentGreeting, "Gracias, ya lo verifiqué. ¿En qué puedo ayudarle hoy?"),
	},
	"greeting_no_miranda_no_rpv": {
		agentTurn(models.SegmentGreeting, "Premier Auto Finance, con María."),
		customerTurn(models.SegmentGreeting, "Hola, llamo por mi cuenta."),
		agentTurn(models.SegmentGreeting, "¿Cuál es el número de cuenta?"),
		customerTurn(models.SegmentGreeting, "456123."),
		agentTurn(models.SegmentGreeting, "Veo que tiene 45 días de atraso. El saldo es $2,400. Hay que resolver esto."),
	},
	"body_accurate_recap": {
		customerTurn(models.SegmentBody, "Quiero hacer un plan de pago."),
		agentTurn(models.SegmentBody, "Puedo ofrecerle un arreglo. El monto pendiente es $800. Podemos hacer dos pagos de $400, el 15 y el 30. ¿Le funciona?"),
		customerTurn(models.SegmentBody, "Sí."),
		agentTurn(models.SegmentBody, "Anoto dos pagos de $400, el primero el 15 y el segundo el 30. Recibirá una confirmación. ¿Algo más?"),
	},
	"body_no_recap": {
		customerTurn(models.SegmentBody, "Puedo pagar $400 la próxima semana."),
		agentTurn(models.SegmentBody, "Lo anoto. $400 la próxima semana. ¿Algo más?"),
		customerTurn(models.SegmentBody, "No."),
	},
	"closing_recap": {
		agentTurn(models.SegmentClosing, "Para confirmar: dos pagos de $400, con fecha del 15 y del 30. Recibirá una confirmación. Gracias por llamar a Premier Auto Finance."),
	},
	"closing_none": {},
}

var ramEN = map[string][]models.Turn{
	"greeting_full": {
		agentTurn(models.SegmentGreeting, "Thank you for calling Premier Auto Finance dealer services, this is Mark. Can you confirm your dealer ID for me?"),
		customerTurn(models.SegmentGreeting, "Sure, dealer 4417, Riverside Motors."),
		agentTurn(models.SegmentGreeting, "Thank you, I have your account up. How can I help today?"),
	},
	"greeting_ok": {
		agentTurn(models.SegmentGreeting, "Dealer services, this is Mark."),
		customerTurn(models.SegmentGreeting, "Hi, it's Riverside Motors, we have a funding question."),
	},
	"body_portal_recap": {
		customerTurn(models.SegmentBody, "I'm trying to upload the income docs but the portal rejects them."),
		agentTurn(models.SegmentBody, "Let me walk you through it. Upload the stips under funding documents, pages one and two, then refresh. Do you see the checklist turn green?"),
		customerTurn(models.SegmentBody, "Yes, it went through."),
		agentTurn(models.SegmentBody, "Perfect. Underwriting reviews the documents within two business days and the portal status will update. Did that work for you?"),
		customerTurn(models.SegmentBody, "Yes, all set."),
	},
	"body_no_confirm": {
		customerTurn(models.SegmentBody, "The portal keeps rejecting the income docs."),
		agentTurn(models.SegmentBody, "Upload the stips under funding documents and refresh. It should go through."),
		customerTurn(models.SegmentBody, "Okay."),
	},
	"body_overpromise": {
		customerTurn(models.SegmentBody, "When will this deal be funded? The customer is waiting."),
		agentTurn(models.SegmentBody, "I'll send this to the funding team and you'll have an answer by today, end of day today at the latest."),
		customerTurn(models.SegmentBody, "Great, thanks."),
	},
	"body_bypass": {
		customerTurn(models.SegmentBody, "We can't get the proof of income before Friday."),
		agentTurn(models.SegmentBody, "If the proof of income is a problem, we can work around it. Just skip the second stip for now; we've made exceptions before."),
		customerTurn(models.SegmentBody, "That would help a lot."),
	},
	"body_contradict": {
		customerTurn(models.SegmentBody, "Underwriting says the advance is capped at 115 percent."),
		agentTurn(models.SegmentBody, "They say that but we've approved higher before. Send it over and we'll push it through."),
	},
	"closing_recap": {
		agentTurn(models.SegmentClosing, "To confirm the next steps: upload the documents, underwriting reviews them, and the portal status updates. Thank you for calling."),
	},
	"closing_abrupt": {
		agentTurn(models.SegmentClosing, "Okay bye."),
	},
	"closing_none": {},
}

var ramES = map[string][]models.Turn{
	"greeting_full": {
		agentTurn(models.SegmentGreeting, "Gracias por llamar a servicios de concesionarios, soy Marco. ¿Me confirma el ID del concesionario?"),
		customerTurn(models.SegmentGreeting, "Claro, concesionario 4417, Riverside Motors."),
		agentTurn(models.SegmentGreeting, "Gracias, ya tengo su cuenta. ¿En qué puedo ayudarle?"),
	},
	"body_portal_recap": {
		customerTurn(models.SegmentBody, "El portal rechaza los documentos de ingresos."),
		agentTurn(models.SegmentBody, "Le explico. Suba los documentos en la sección de financiamiento y actualice la página. ¿Le apareció la lista en verde?"),
		customerTurn(models.SegmentBody, "Sí, ya pasó."),
	},
	"body_contradict": {
		customerTurn(models.SegmentBody, "Underwriting dice que el avance tiene un tope del 115 por ciento."),
		agentTurn(models.SegmentBody, "Eso dicen, pero lo aprobamos más alto antes. Mándelo y lo empujamos."),
	},
	"closing_recap": {
		agentTurn(models.SegmentClosing, "Para confirmar los próximos pasos: suba los documentos al portal y underwriting los revisa. Gracias por llamar."),
	},
	"closing_none": {},
}

// blocksFor returns the template block map for a persona and language.
func blocksFor(personaID, language string) map[string][]models.Turn {
	switch personaID {
	case models.PersonaCollections:
		if language == "es" {
			return collectionsES
		}
		return collectionsEN
	case models.PersonaRAM:
		if language == "es" {
			return ramES
		}
		return ramEN
	}
	return nil
}
