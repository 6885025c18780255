package warranty

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/warrantyocr/warranty-ocr/internal/validation"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		validator   *mockValidator
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	installed := civil.Date{Year: 2025, Month: time.June, Day: 13}

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, validator, storage,
			&mockIDGenerator{id: "w-1"},
			&mockTimeSource{now: time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)},
		)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		validator = newMockValidator(validation.StatusApproved)
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	multipartBody := func(fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		for k, v := range fields {
			Expect(mw.WriteField(k, v)).To(Succeed())
		}
		if filename != "" {
			part, err := mw.CreateFormFile("invoice", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(mw.Close()).To(Succeed())
		return body, mw.FormDataContentType()
	}

	decodeError := func(resp *http.Response) string {
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	Describe("handleHealth", func() {
		It("should return status OK", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleSubmitWarranty", func() {
		var fields map[string]string

		BeforeEach(func() {
			fields = map[string]string{
				"installation_date": "2025-06-13",
				"serial_number":     "SN-42",
				"product_model":     "HeatPump 9000",
				"installer_id":      "inst-7",
			}
		})

		When("the submission is valid", func() {
			It("should create the warranty with the validation status", func() {
				body, ct := multipartBody(fields, "invoice.jpg", []byte("fake image"))
				resp, err := http.Post(ghttpServer.URL()+"/api/warranties", ct, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var w Warranty
				Expect(json.NewDecoder(resp.Body).Decode(&w)).To(Succeed())
				Expect(w.ID).To(Equal("w-1"))
				Expect(w.Status).To(Equal(validation.StatusApproved))
				Expect(w.InstallationDate).To(Equal(civil.Date{Year: 2025, Month: time.June, Day: 13}))
				Expect(w.ContentType).To(Equal("image/jpeg"))
			})
		})

		When("the installation date is malformed", func() {
			BeforeEach(func() {
				fields["installation_date"] = "13/06/2025"
			})

			It("should return Bad Request", func() {
				body, ct := multipartBody(fields, "invoice.jpg", []byte("fake image"))
				resp, err := http.Post(ghttpServer.URL()+"/api/warranties", ct, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("YYYY-MM-DD"))
				Expect(validator.calls).To(BeEmpty())
			})
		})

		When("no invoice is attached", func() {
			It("should return Bad Request", func() {
				body, ct := multipartBody(fields, "", nil)
				resp, err := http.Post(ghttpServer.URL()+"/api/warranties", ct, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("No invoice"))
			})
		})

		When("the serial number is missing", func() {
			BeforeEach(func() {
				delete(fields, "serial_number")
			})

			It("should return Bad Request", func() {
				body, ct := multipartBody(fields, "invoice.jpg", []byte("fake image"))
				resp, err := http.Post(ghttpServer.URL()+"/api/warranties", ct, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("serial number"))
			})
		})
	})

	Describe("handleListWarranties", func() {
		BeforeEach(func() {
			db.warranties["a"] = &Warranty{ID: "a", InstallationDate: installed, Status: validation.StatusApproved}
			db.warranties["b"] = &Warranty{ID: "b", InstallationDate: installed, Status: validation.StatusInProgress}
		})

		It("should return all warranties", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/warranties")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var warranties []*Warranty
			Expect(json.NewDecoder(resp.Body).Decode(&warranties)).To(Succeed())
			Expect(warranties).To(HaveLen(2))
		})

		It("should filter by status", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/warranties?status=in_progress")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var warranties []*Warranty
			Expect(json.NewDecoder(resp.Body).Decode(&warranties)).To(Succeed())
			Expect(warranties).To(HaveLen(1))
			Expect(warranties[0].ID).To(Equal("b"))
		})

		It("should reject unknown statuses", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/warranties?status=maybe")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetWarranty", func() {
		It("should return Not Found for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/warranties/nope")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return the warranty", func() {
			db.warranties["a"] = &Warranty{ID: "a", InstallationDate: installed, SerialNumber: "SN-1"}
			resp, err := http.Get(ghttpServer.URL() + "/api/warranties/a")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var w Warranty
			Expect(json.NewDecoder(resp.Body).Decode(&w)).To(Succeed())
			Expect(w.SerialNumber).To(Equal("SN-1"))
			Expect(w.InstallationDate).To(Equal(installed))
		})
	})

	Describe("handleGetInvoice", func() {
		It("should serve the file with its content type", func() {
			db.warranties["a"] = &Warranty{ID: "a", InstallationDate: installed, InvoicePath: "a.png", ContentType: "image/png"}
			storage.files["a.png"] = []byte("png bytes")

			resp, err := http.Get(ghttpServer.URL() + "/api/warranties/a/invoice")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png bytes")))
		})
	})

	Describe("handleDeleteWarranty", func() {
		It("should return No Content", func() {
			db.warranties["a"] = &Warranty{ID: "a", InstallationDate: installed, InvoicePath: "a.png"}
			storage.files["a.png"] = []byte("x")

			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/warranties/a", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.warranties).To(BeEmpty())
		})
	})

	Describe("handleRevalidate", func() {
		It("should return the updated warranty", func() {
			db.warranties["a"] = &Warranty{ID: "a", InstallationDate: installed, InvoicePath: "a.png", Status: validation.StatusInProgress}
			validator.result = validation.Result{Status: validation.StatusRejected, ExtractedDates: []civil.Date{}}

			resp, err := http.Post(ghttpServer.URL()+"/api/warranties/a/revalidate", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var w Warranty
			Expect(json.NewDecoder(resp.Body).Decode(&w)).To(Succeed())
			Expect(w.Status).To(Equal(validation.StatusRejected))
		})
	})

	Describe("handleSetStatus", func() {
		put := func(id, body string) *http.Response {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/warranties/"+id+"/status", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		BeforeEach(func() {
			db.warranties["a"] = &Warranty{ID: "a", InstallationDate: installed, Status: validation.StatusInProgress}
		})

		It("should record the decision", func() {
			resp := put("a", `{"status": "approved"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.warranties["a"].Status).To(Equal(validation.StatusApproved))
		})

		It("should reject unknown statuses", func() {
			resp := put("a", `{"status": "maybe"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Not Found for unknown IDs", func() {
			resp := put("nope", `{"status": "REJECTED"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/warranties", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("should reject missing credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/warranties")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/warranties", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
