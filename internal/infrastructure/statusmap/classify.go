package statusmap

import (
	"strings"

	"github.com/storefront/integration/internal/domain/order"
)

// statusFragments are name fragments observed across ERP installations,
// checked in order so terminal vocabularies win over partial matches
// ("cancelado" before "andamento" matters for names like
// "cancelamento em andamento").
var statusFragments = []struct {
	fragments []string
	status    order.Status
}{
	{[]string{"cancel", "cancelad"}, order.StatusCancelled},
	{[]string{"delivered", "completed", "entregue", "concluido", "concluído", "atendido"}, order.StatusDelivered},
	{[]string{"shipped", "in transit", "enviado", "transporte", "despachado"}, order.StatusShipped},
	{[]string{"invoiced", "faturado"}, order.StatusInvoiced},
	{[]string{"in progress", "processing", "andamento", "preparac", "preparaç"}, order.StatusProcessing},
	{[]string{"open", "pending", "aberto", "pendente", "aguardando"}, order.StatusPending},
}

// Classify assigns a catalog status name to the canonical enum by substring
// heuristics. Returns false when no fragment matches.
func Classify(name string) (order.Status, bool) {
	lowered := strings.ToLower(name)
	for _, group := range statusFragments {
		for _, fragment := range group.fragments {
			if strings.Contains(lowered, fragment) {
				return group.status, true
			}
		}
	}
	return "", false
}
