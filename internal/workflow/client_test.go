package workflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/JonMunkholm/fisler/internal/core"
)

var _ = Describe("Client", func() {
	var (
		server *ghttp.Server
		client *Client
		upload Upload
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		client = New(server.URL()+"/webhook/fis", 5*time.Second)
		upload = Upload{
			Name:        "market fişi.jpg",
			Size:        12,
			ContentType: "image/jpeg",
			Body:        strings.NewReader("jpeg-bytes!!"),
			UploadedAt:  time.Date(2025, 1, 3, 11, 22, 33, 456000000, time.UTC),
		}
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Enabled", func() {
		It("is false without a URL", func() {
			Expect(New("", time.Second).Enabled()).To(BeFalse())
			Expect(New("   ", time.Second).Enabled()).To(BeFalse())
		})

		It("is false for the template placeholder", func() {
			Expect(New(PlaceholderURL, time.Second).Enabled()).To(BeFalse())
		})

		It("is true for a real webhook", func() {
			Expect(client.Enabled()).To(BeTrue())
		})
	})

	Describe("Forward", func() {
		When("the workflow accepts the file", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/webhook/fis"),
					func(w http.ResponseWriter, r *http.Request) {
						Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
						Expect(r.FormValue("originalName")).To(Equal("market fişi.jpg"))
						Expect(r.FormValue("fileSize")).To(Equal("12"))
						Expect(r.FormValue("fileType")).To(Equal("image/jpeg"))
						Expect(r.FormValue("uploadedAt")).To(Equal("2025-01-03T11:22:33.456Z"))

						f, hdr, err := r.FormFile("file")
						Expect(err).NotTo(HaveOccurred())
						defer f.Close()
						Expect(hdr.Filename).To(Equal("market fişi.jpg"))
						Expect(hdr.Header.Get("Content-Type")).To(Equal("image/jpeg"))
						data, err := io.ReadAll(f)
						Expect(err).NotTo(HaveOccurred())
						Expect(string(data)).To(Equal("jpeg-bytes!!"))
					},
					ghttp.RespondWith(http.StatusOK, `{"success":true,"fis_no":"F-1"}`),
				))
			})

			It("relays the JSON reply", func() {
				reply, err := client.Forward(context.Background(), upload)
				Expect(err).NotTo(HaveOccurred())
				Expect(reply.Status).To(Equal(http.StatusOK))
				Expect(reply.Body).To(MatchJSON(`{"success":true,"fis_no":"F-1"}`))
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the workflow rejects with a structured code", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK,
					`{"success":false,"code":"low_confidence","error":"Okuma güveni düşük (0.41)"}`))
			})

			It("returns a rejection with the message verbatim", func() {
				_, err := client.Forward(context.Background(), upload)
				var we *core.WorkflowError
				Expect(errors.As(err, &we)).To(BeTrue())
				Expect(we.IsRejection()).To(BeTrue())
				Expect(we.Code).To(Equal(core.RejectLowConfidence))
				Expect(we.Message).To(Equal("Okuma güveni düşük (0.41)"))
				Expect(we.Body).To(MatchJSON(`{"success":false,"code":"low_confidence","error":"Okuma güveni düşük (0.41)"}`))
			})
		})

		When("an older workflow only sends a phrase", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK,
					`{"error":"Yüklenen görsel fiş olarak tanımlanamadı"}`))
			})

			It("infers the rejection code", func() {
				_, err := client.Forward(context.Background(), upload)
				var we *core.WorkflowError
				Expect(errors.As(err, &we)).To(BeTrue())
				Expect(we.Code).To(Equal(core.RejectNotAReceipt))
				Expect(we.Message).To(Equal("Yüklenen görsel fiş olarak tanımlanamadı"))
			})
		})

		When("the workflow fails", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "Workflow could not be started"))
			})

			It("returns a non-rejection workflow error", func() {
				_, err := client.Forward(context.Background(), upload)
				var we *core.WorkflowError
				Expect(errors.As(err, &we)).To(BeTrue())
				Expect(we.IsRejection()).To(BeFalse())
				Expect(we.Status).To(Equal(http.StatusInternalServerError))
				Expect(we.Message).To(ContainSubstring("Workflow could not be started"))
			})
		})

		When("the workflow is slower than the client timeout", func() {
			BeforeEach(func() {
				client = New(server.URL()+"/webhook/fis", 50*time.Millisecond)
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(300 * time.Millisecond)
					w.WriteHeader(http.StatusOK)
				})
			})

			It("returns a timeout, not an unreachable error", func() {
				_, err := client.Forward(context.Background(), upload)
				var we *core.WorkflowError
				Expect(errors.As(err, &we)).To(BeTrue())
				Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
				Expect(core.MapError(err).Code).To(Equal("WF007"))
			})
		})

		When("the workflow is unreachable", func() {
			It("returns a workflow error without status", func() {
				server.Close()
				_, err := client.Forward(context.Background(), upload)
				var we *core.WorkflowError
				Expect(errors.As(err, &we)).To(BeTrue())
				Expect(we.Status).To(BeZero())
				Expect(we.Err).To(HaveOccurred())
				Expect(core.MapError(err).Code).To(Equal("WF005"))
			})
		})
	})

	DescribeTable("Classify",
		func(status int, body string, wantErr bool, wantCode string) {
			reply, err := Classify(status, []byte(body))
			if !wantErr {
				Expect(err).NotTo(HaveOccurred())
				Expect(reply.Status).To(Equal(status))
				return
			}
			var we *core.WorkflowError
			Expect(errors.As(err, &we)).To(BeTrue())
			Expect(we.Code).To(Equal(wantCode))
		},
		Entry("plain success", 200, `{"message":"ok"}`, false, ""),
		Entry("empty success", 204, ``, false, ""),
		Entry("success mentioning confidence", 200, `{"message":"confidence 0.98"}`, false, ""),
		Entry("structured code wins over phrase", 200, `{"code":"UNCLEAR_IMAGE","error":"confidence low"}`, true, core.RejectUnclearImage),
		Entry("unknown code falls back to phrase", 200, `{"code":"E42","error":"Lütfen daha net bir fiş fotoğrafı yükleyin"}`, true, core.RejectUnclearImage),
		Entry("small image phrase", 422, `{"error":"Görsel dosya çok küçük"}`, true, core.RejectImageTooSmall),
		Entry("upload status error", 200, `{"upload":"error","message":"beklenmeyen hata"}`, true, ""),
		Entry("non-JSON success", 200, `<html>ok</html>`, true, ""),
		Entry("bad gateway", 502, `{"message":"upstream down"}`, true, ""),
	)
})
