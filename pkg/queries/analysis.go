package queries

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/eunmann/txn-batch-report/pkg/pipeline"
)

// Report time formatting.
const (
	reportDateFormat = "%Y-%m-%d %H:%M:%S"
	reportTimezone   = "America/Bogota"
)

// WebcheckoutCollection holds checkout histories joined by the analysis.
const WebcheckoutCollection = "webcheckout"

// NameTransactionAnalysis names the per-key analysis output.
const NameTransactionAnalysis = "transaction-analysis"

func op(key string, v any) bson.D {
	return bson.D{{Key: key, Value: v}}
}

func dateString(expr any) bson.D {
	return op("$dateToString", bson.D{
		{Key: "date", Value: expr},
		{Key: "format", Value: reportDateFormat},
		{Key: "timezone", Value: reportTimezone},
	})
}

// percentString renders ratio*100 rounded to one decimal followed by "%".
func percentString(ratio any) bson.D {
	return op("$concat", bson.A{
		op("$toString", op("$round", bson.A{op("$multiply", bson.A{ratio, 100}), 1})),
		"%",
	})
}

// versionShare is count/total guarded against a zero total.
func versionShare(field string) bson.D {
	return op("$concat", bson.A{
		op("$toString", op("$round", bson.A{
			op("$cond", bson.A{
				op("$eq", bson.A{"$total", 0}),
				0,
				op("$multiply", bson.A{op("$divide", bson.A{field, "$total"}), 100}),
			}),
			1,
		})),
		"%",
	})
}

func countIfType(typ string) bson.D {
	return op("$sum", op("$cond", bson.A{
		op("$eq", bson.A{op("$type", "$_id"), typ}),
		1,
		0,
	}))
}

// TransactionAnalysis summarizes the transactions of each public key in keys:
// merchant data, first transaction date, integration type, V1/V2 id split and
// payment methods seen in the joined webcheckout histories.
func TransactionAnalysis(keys []string) pipeline.Pipeline {
	in := make(bson.A, len(keys))
	for i, k := range keys {
		in[i] = k
	}

	webcheckout := bson.A{
		op("$match", op("$expr", op("$or", bson.A{
			op("$in", bson.A{"$transactionId", "$$txIds"}),
			op("$in", bson.A{"$transactionId", "$$txIdsString"}),
		}))),
		op("$sort", op("createdAt", -1)),
		op("$unwind", "$history"),
		op("$addFields", op("paymentMethodUnified", op("$ifNull", bson.A{"$history.paymentMethod", "$history.type"}))),
		op("$group", bson.D{
			{Key: "_id", Value: "$paymentMethodUnified"},
			{Key: "count", Value: op("$sum", 1)},
			{Key: "exampleId", Value: op("$first", "$_id")},
			{Key: "exampleCreatedAt", Value: op("$first", "$createdAt")},
		}),
		op("$group", bson.D{
			{Key: "_id", Value: nil},
			{Key: "types", Value: op("$push", bson.D{
				{Key: "type", Value: "$_id"},
				{Key: "count", Value: "$count"},
				{Key: "exampleId", Value: "$exampleId"},
				{Key: "exampleCreatedAt", Value: "$exampleCreatedAt"},
			})},
			{Key: "totalCount", Value: op("$sum", "$count")},
		}),
	}

	paymentMethods := op("$map", bson.D{
		{Key: "input", Value: op("$ifNull", bson.A{"$webcheckoutInfo.types", bson.A{}})},
		{Key: "as", Value: "method"},
		{Key: "in", Value: bson.D{
			{Key: "type", Value: "$$method.type"},
			{Key: "example", Value: "$$method.exampleId"},
			{Key: "exampleDate", Value: dateString("$$method.exampleCreatedAt")},
			{Key: "count", Value: "$$method.count"},
			{Key: "percentage", Value: percentString(op("$divide", bson.A{
				"$$method.count",
				op("$ifNull", bson.A{"$webcheckoutInfo.totalCount", 1}),
			}))},
		}},
	})

	return pipeline.New(
		op("$match", op("publicKey", op("$in", in))),
		op("$sort", op("createdAt", 1)),
		op("$addFields", op("transactionIdAsString", op("$toString", "$_id"))),
		op("$group", bson.D{
			{Key: "_id", Value: "$publicKey"},
			{Key: "idComercio", Value: op("$first", "$commerce.clienteId")},
			{Key: "comercio", Value: op("$first", "$commerce.comercio")},
			{Key: "isGateway", Value: op("$first", "$commerce.gateway")},
			{Key: "createdAtMasAntiguo", Value: op("$first", "$createdAt")},
			{Key: "epaycoImplementationType", Value: op("$first", op("$cond", bson.A{
				op("$regexMatch", bson.D{{Key: "input", Value: "$correlationId"}, {Key: "regex", Value: "legacy"}}),
				"legacy-api",
				"handler",
			}))},
			{Key: "V2", Value: countIfType("objectId")},
			{Key: "V1", Value: countIfType("string")},
			{Key: "total", Value: op("$sum", 1)},
			{Key: "horaEjecucion", Value: op("$first", "$$NOW")},
			{Key: "transactionIds", Value: op("$push", "$_id")},
			{Key: "transactionIdsAsString", Value: op("$push", "$transactionIdAsString")},
		}),
		op("$lookup", bson.D{
			{Key: "from", Value: WebcheckoutCollection},
			{Key: "let", Value: bson.D{
				{Key: "txIds", Value: "$transactionIds"},
				{Key: "txIdsString", Value: "$transactionIdsAsString"},
			}},
			{Key: "pipeline", Value: webcheckout},
			{Key: "as", Value: "webcheckoutData"},
		}),
		op("$addFields", op("webcheckoutInfo", op("$arrayElemAt", bson.A{"$webcheckoutData", 0}))),
		op("$project", bson.D{
			{Key: "_id", Value: 0},
			{Key: "publicKey", Value: "$_id"},
			{Key: "comercio", Value: 1},
			{Key: "idComercio", Value: 1},
			{Key: "isGateway", Value: 1},
			{Key: "createdAtMasAntiguo", Value: dateString("$createdAtMasAntiguo")},
			{Key: "V2", Value: 1},
			{Key: "V1", Value: 1},
			{Key: "total", Value: 1},
			{Key: "porcentajeV2", Value: versionShare("$V2")},
			{Key: "porcentajeV1", Value: versionShare("$V1")},
			{Key: "paymentMethodsStats", Value: paymentMethods},
			{Key: "totalPaymentMethods", Value: op("$ifNull", bson.A{"$webcheckoutInfo.totalCount", 0})},
			{Key: "horaEjecucion", Value: dateString("$horaEjecucion")},
		}),
	)
}

var _ KeyPipelineFactory = TransactionAnalysis
