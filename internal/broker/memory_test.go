package broker

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryBrokerSendWaitComplete(t *testing.T) {
	b := NewInMemoryBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tasks, err := b.Consume(ctx, []string{"sh"})
	if err != nil {
		t.Fatal(err)
	}

	resultID, err := b.SendTask(ctx, "sh", `{"hello":"world"}`)
	if err != nil {
		t.Fatalf("SendTask: %v", err)
	}

	go func() {
		task := <-tasks
		if task.ResultID != resultID {
			t.Errorf("unexpected result id: got %s want %s", task.ResultID, resultID)
		}
		if err := b.Complete(ctx, task.ResultID, `{"return_code":0}`); err != nil {
			t.Errorf("Complete: %v", err)
		}
	}()

	got, err := b.Wait(ctx, resultID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != `{"return_code":0}` {
		t.Fatalf("unexpected result payload: %q", got)
	}
}

func TestInMemoryBrokerWaitTimesOutWithoutComplete(t *testing.T) {
	b := NewInMemoryBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := b.Wait(ctx, "nonexistent"); err == nil {
		t.Fatal("expected Wait to time out")
	}
}
