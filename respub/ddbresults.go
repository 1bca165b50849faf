package respub

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/guregu/dynamo/v2"
	"goa.design/clue/log"

	"github.com/evalforge/backend/eval"
)

type EvalResultRow struct {
	EvalUuid string `dynamo:"eval_uuid,hash"` // partition key
	SortKey  string `dynamo:"sort_key,range"` // result

	Status      string `dynamo:"status"`
	Signal      string `dynamo:"signal"`
	ExitCode    *int64 `dynamo:"exit_code"`
	CodeUnknown bool   `dynamo:"code_unknown"`
	Reason      string `dynamo:"reason"`

	OutputRef string `dynamo:"output_ref"` // object key of the captured output

	FinishedAtRfc3339 string `dynamo:"finished_at_rfc3339_utc"`
	Version           int64  `dynamo:"version"` // For optimistic locking
}

const resultSortKey = "result"

type DynamoDbResultTable struct {
	ddbClient   *dynamodb.Client
	tableName   string
	resultTable *dynamo.Table
}

func NewDynamoDbResultTable(ddbClient *dynamodb.Client, tableName string) *DynamoDbResultTable {
	ddb := &DynamoDbResultTable{
		ddbClient: ddbClient,
		tableName: tableName,
	}
	db := dynamo.NewFromIface(ddb.ddbClient)
	table := db.Table(ddb.tableName)
	ddb.resultTable = &table

	return ddb
}

func (ddb *DynamoDbResultTable) Save(ctx context.Context, rec *Record) error {
	// Increment the version number for optimistic locking
	rec.Version++

	row := &EvalResultRow{
		EvalUuid:          rec.EvalID.String(),
		SortKey:           resultSortKey,
		Status:            string(rec.Status),
		Signal:            string(rec.Signal),
		ExitCode:          rec.ExitCode,
		CodeUnknown:       rec.CodeUnknown,
		Reason:            rec.Reason,
		OutputRef:         rec.OutputRef,
		FinishedAtRfc3339: rec.FinishedAt,
		Version:           rec.Version,
	}

	put := ddb.resultTable.Put(row).If("attribute_not_exists(version) OR version = ?", row.Version-1)
	err := put.Run(ctx)

	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		log.Printf(ctx, "ProvisionedThroughputExceededException: %v", err)
		time.Sleep(1 * time.Second)
		return put.Run(ctx)
	}
	return err
}

func (ddb *DynamoDbResultTable) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var row EvalResultRow
	err := ddb.resultTable.Get("eval_uuid", id.String()).
		Range("sort_key", dynamo.Equal, resultSortKey).
		One(ctx, &row)
	if err != nil {
		if errors.Is(err, dynamo.ErrNotFound) {
			return nil, eval.ErrEvalNotFound()
		}
		return nil, err
	}

	return &Record{
		EvalID:      id,
		Status:      eval.Status(row.Status),
		Signal:      eval.ExitSignal(row.Signal),
		ExitCode:    row.ExitCode,
		CodeUnknown: row.CodeUnknown,
		Reason:      row.Reason,
		OutputRef:   row.OutputRef,
		FinishedAt:  row.FinishedAtRfc3339,
		Version:     row.Version,
	}, nil
}
